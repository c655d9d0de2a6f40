package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
)

// MLPParams configures the feed-forward network.
type MLPParams struct {
	Hidden       []int     `json:"hidden"`
	Dropout      []float64 `json:"dropout"`
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
	BatchSize    int       `json:"batch_size"`
	// ValidationFraction of the rows, taken from the end, is held out to
	// drive early stopping and learning-rate decay.
	ValidationFraction float64 `json:"validation_fraction"`
	Patience           int     `json:"patience"`
	ReduceFactor       float64 `json:"reduce_factor"`
	ReducePatience     int     `json:"reduce_patience"`
	MinLearningRate    float64 `json:"min_learning_rate"`
	Seed               uint64  `json:"seed"`
}

func DefaultMLPParams() MLPParams {
	return MLPParams{
		Hidden:             []int{512, 256, 128, 64, 32},
		Dropout:            []float64{0.3, 0.2, 0.1},
		LearningRate:       1e-3,
		Epochs:             200,
		BatchSize:          32,
		ValidationFraction: 0.2,
		Patience:           50,
		ReduceFactor:       0.5,
		ReducePatience:     25,
		MinLearningRate:    1e-6,
		Seed:               42,
	}
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
	minDelta    = 1e-4
)

// Layer is a dense layer; W is row-major Out x In.
type Layer struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`
}

// MLP is a ReLU multilayer perceptron with a single linear output, trained
// with Adam on mean squared error.
type MLP struct {
	Params   MLPParams `json:"params"`
	Layers   []Layer   `json:"layers"`
	Features int       `json:"features"`
	// Epochs actually run before early stopping.
	EpochsRun int `json:"epochs_run"`

	mu sync.RWMutex
}

func NewMLP(p MLPParams) *MLP {
	return &MLP{Params: p}
}

func (m *MLP) Family() Family { return NeuralNetwork }

func (m *MLP) Fit(ctx context.Context, X [][]float64, y []float64) error {
	cols, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	p := m.Params
	if p.Epochs < 1 {
		return fmt.Errorf("epochs must be positive, got %d", p.Epochs)
	}
	if p.LearningRate <= 0 {
		return errors.New("learning_rate must be positive")
	}
	for _, h := range p.Hidden {
		if h < 1 {
			return fmt.Errorf("hidden layer size must be positive, got %d", h)
		}
	}
	batch := max(p.BatchSize, 1)

	n := len(X)
	nVal := int(float64(n) * p.ValidationFraction)
	if nVal >= n {
		nVal = 0
	}
	nTrain := n - nVal

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	layers := initLayers(rng, cols, p.Hidden)
	opt := newAdam(layers)
	ws := newWorkspace(layers)

	lr := p.LearningRate
	best := math.Inf(1)
	bestLayers := cloneLayers(layers)
	sinceBest, sincePlateau := 0, 0
	plateauBest := math.Inf(1)

	order := make([]int, nTrain)
	for i := range order {
		order[i] = i
	}

	epoch := 0
	for epoch < p.Epochs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for start := 0; start < nTrain; start += batch {
			end := min(start+batch, nTrain)
			ws.zeroGrads()
			for _, r := range order[start:end] {
				ws.backprop(layers, X[r], y[r], float64(end-start), p.Dropout, rng)
			}
			opt.step(layers, ws, lr)
		}
		epoch++

		monitor := 0.0
		if nVal > 0 {
			monitor = mse(layers, X[nTrain:], y[nTrain:])
		} else {
			monitor = mse(layers, X, y)
		}
		if math.IsNaN(monitor) {
			break
		}

		if monitor < best {
			best = monitor
			bestLayers = cloneLayers(layers)
			sinceBest = 0
		} else {
			sinceBest++
		}
		if p.Patience > 0 && sinceBest >= p.Patience {
			break
		}

		if monitor < plateauBest-minDelta {
			plateauBest = monitor
			sincePlateau = 0
		} else {
			sincePlateau++
		}
		if p.ReducePatience > 0 && sincePlateau >= p.ReducePatience && p.ReduceFactor > 0 {
			lr = math.Max(lr*p.ReduceFactor, p.MinLearningRate)
			sincePlateau = 0
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Layers = bestLayers
	m.Features = cols
	m.EpochsRun = epoch
	return nil
}

func (m *MLP) Predict(X [][]float64) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Features == 0 {
		return nil, ErrNotFitted
	}
	if err := checkInput(X, m.Features); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = forward(m.Layers, row)
	}
	return out, nil
}

func initLayers(rng *rand.Rand, in int, hidden []int) []Layer {
	sizes := append(append([]int{in}, hidden...), 1)
	layers := make([]Layer, len(sizes)-1)
	for l := range layers {
		fanIn, fanOut := sizes[l], sizes[l+1]
		limit := math.Sqrt(6 / float64(fanIn+fanOut))
		w := make([]float64, fanIn*fanOut)
		for i := range w {
			w[i] = (rng.Float64()*2 - 1) * limit
		}
		layers[l] = Layer{In: fanIn, Out: fanOut, W: w, B: make([]float64, fanOut)}
	}
	return layers
}

func cloneLayers(layers []Layer) []Layer {
	out := make([]Layer, len(layers))
	for i, l := range layers {
		out[i] = Layer{In: l.In, Out: l.Out, W: slices.Clone(l.W), B: slices.Clone(l.B)}
	}
	return out
}

// forward runs inference without dropout.
func forward(layers []Layer, x []float64) float64 {
	a := x
	for li, l := range layers {
		z := make([]float64, l.Out)
		for o := 0; o < l.Out; o++ {
			s := l.B[o]
			w := l.W[o*l.In : (o+1)*l.In]
			for i, v := range a {
				s += w[i] * v
			}
			if li < len(layers)-1 && s < 0 {
				s = 0
			}
			z[o] = s
		}
		a = z
	}
	return a[0]
}

func mse(layers []Layer, X [][]float64, y []float64) float64 {
	var sum float64
	for i, row := range X {
		d := forward(layers, row) - y[i]
		sum += d * d
	}
	return sum / float64(len(X))
}

// workspace holds per-sample activations and accumulated batch gradients.
type workspace struct {
	acts  [][]float64 // acts[l] is the input to layer l
	masks [][]float64 // dropout scale applied to acts[l+1]
	delta [][]float64
	gW    [][]float64
	gB    [][]float64
}

func newWorkspace(layers []Layer) *workspace {
	ws := &workspace{
		acts:  make([][]float64, len(layers)+1),
		masks: make([][]float64, len(layers)),
		delta: make([][]float64, len(layers)),
		gW:    make([][]float64, len(layers)),
		gB:    make([][]float64, len(layers)),
	}
	for l, layer := range layers {
		ws.acts[l+1] = make([]float64, layer.Out)
		ws.masks[l] = make([]float64, layer.Out)
		ws.delta[l] = make([]float64, layer.Out)
		ws.gW[l] = make([]float64, len(layer.W))
		ws.gB[l] = make([]float64, len(layer.B))
	}
	return ws
}

func (ws *workspace) zeroGrads() {
	for l := range ws.gW {
		clear(ws.gW[l])
		clear(ws.gB[l])
	}
}

// backprop adds the gradient of (f(x)-y)^2 / batch to the accumulators.
func (ws *workspace) backprop(layers []Layer, x []float64, y, batch float64, dropout []float64, rng *rand.Rand) {
	last := len(layers) - 1
	ws.acts[0] = x
	for l, layer := range layers {
		in, out := ws.acts[l], ws.acts[l+1]
		rate := 0.0
		if l < last && l < len(dropout) {
			rate = dropout[l]
		}
		for o := 0; o < layer.Out; o++ {
			s := layer.B[o]
			w := layer.W[o*layer.In : (o+1)*layer.In]
			for i, v := range in {
				s += w[i] * v
			}
			// scale is the derivative of the activation and dropout together.
			scale := 1.0
			if l < last {
				switch {
				case s <= 0:
					scale = 0
				case rate > 0 && rng.Float64() < rate:
					scale = 0
				case rate > 0:
					scale = 1 / (1 - rate)
				}
				s *= scale
			}
			ws.masks[l][o] = scale
			out[o] = s
		}
	}

	ws.delta[last][0] = 2 * (ws.acts[last+1][0] - y) / batch
	for l := last; l >= 0; l-- {
		layer := layers[l]
		in := ws.acts[l]
		d := ws.delta[l]
		gW := ws.gW[l]
		for o := 0; o < layer.Out; o++ {
			ws.gB[l][o] += d[o]
			row := gW[o*layer.In : (o+1)*layer.In]
			for i, v := range in {
				row[i] += d[o] * v
			}
		}
		if l == 0 {
			break
		}
		prev := ws.delta[l-1]
		mask := ws.masks[l-1]
		for i := range prev {
			if mask[i] == 0 {
				prev[i] = 0
				continue
			}
			var s float64
			for o := 0; o < layer.Out; o++ {
				s += layer.W[o*layer.In+i] * d[o]
			}
			prev[i] = s * mask[i]
		}
	}
}

type adam struct {
	t      int
	mW, vW [][]float64
	mB, vB [][]float64
}

func newAdam(layers []Layer) *adam {
	a := &adam{
		mW: make([][]float64, len(layers)), vW: make([][]float64, len(layers)),
		mB: make([][]float64, len(layers)), vB: make([][]float64, len(layers)),
	}
	for l, layer := range layers {
		a.mW[l] = make([]float64, len(layer.W))
		a.vW[l] = make([]float64, len(layer.W))
		a.mB[l] = make([]float64, len(layer.B))
		a.vB[l] = make([]float64, len(layer.B))
	}
	return a
}

func (a *adam) step(layers []Layer, ws *workspace, lr float64) {
	a.t++
	lrT := lr * math.Sqrt(1-math.Pow(adamBeta2, float64(a.t))) / (1 - math.Pow(adamBeta1, float64(a.t)))
	for l := range layers {
		update(layers[l].W, ws.gW[l], a.mW[l], a.vW[l], lrT)
		update(layers[l].B, ws.gB[l], a.mB[l], a.vB[l], lrT)
	}
}

func update(params, grads, m, v []float64, lr float64) {
	for i, g := range grads {
		m[i] = adamBeta1*m[i] + (1-adamBeta1)*g
		v[i] = adamBeta2*v[i] + (1-adamBeta2)*g*g
		params[i] -= lr * m[i] / (math.Sqrt(v[i]) + adamEpsilon)
	}
}
