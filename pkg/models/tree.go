package models

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"
)

const maxBins = 256

// Node is a regression tree node. A node with Left == 0 is a leaf; the root
// sits at index 0 so no child ever does.
type Node struct {
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a binary regression tree; rows with x[Feature] <= Threshold go left.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left == 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func (t *Tree) scale(f float64) {
	for i := range t.Nodes {
		t.Nodes[i].Value *= f
	}
}

// histData is the training matrix quantized into at most maxBins bins per
// feature. bins[f][row] = b means edges[f][b-1] < x <= edges[f][b].
type histData struct {
	bins  [][]uint8
	edges [][]float64
}

func quantize(X [][]float64) *histData {
	cols := len(X[0])
	h := &histData{bins: make([][]uint8, cols), edges: make([][]float64, cols)}
	col := make([]float64, len(X))
	for f := 0; f < cols; f++ {
		for i, row := range X {
			col[i] = row[f]
		}
		edges := binEdges(col)
		bins := make([]uint8, len(X))
		for i, v := range col {
			bins[i] = uint8(sort.SearchFloat64s(edges, v))
		}
		h.bins[f] = bins
		h.edges[f] = edges
	}
	return h
}

// binEdges returns ascending split candidates: midpoints between distinct
// values, thinned to quantiles when there are too many.
func binEdges(col []float64) []float64 {
	uniq := slices.Clone(col)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)
	if len(uniq) < 2 {
		return nil
	}
	if len(uniq) <= maxBins {
		edges := make([]float64, len(uniq)-1)
		for i := range edges {
			edges[i] = (uniq[i] + uniq[i+1]) / 2
		}
		return edges
	}
	edges := make([]float64, 0, maxBins-1)
	for k := 1; k < maxBins; k++ {
		idx := k * len(uniq) / maxBins
		e := (uniq[idx-1] + uniq[idx]) / 2
		if len(edges) == 0 || e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	return edges
}

// growConfig controls tree growth. Leaves are expanded best-gain first, so
// with maxLeaves == 0 the result equals level-wise growth to maxDepth.
type growConfig struct {
	maxDepth        int
	maxLeaves       int
	minSamplesLeaf  int
	minSamplesSplit int
	minHessian      float64
	lambda          float64
	alpha           float64
	minGain         float64
	// features returns the candidate features for one node.
	features func() []int
}

type split struct {
	feature   int
	bin       int
	threshold float64
	gain      float64
}

type leaf struct {
	node  int
	depth int
	rows  []int
	g, h  float64
	best  *split
}

// growTree fits a tree to gradients g and hessians h over rows. Leaf values
// are -T(G, alpha)/(H + lambda), T being soft thresholding.
func growTree(data *histData, grad, hess []float64, rows []int, cfg growConfig) *Tree {
	t := &Tree{}
	root := newLeaf(t, rows, grad, hess, 0, cfg)
	open := []*leaf{root}
	leaves := 1
	root.best = bestSplit(data, grad, hess, root, cfg)

	for cfg.maxLeaves <= 0 || leaves < cfg.maxLeaves {
		pick := -1
		for i, l := range open {
			if l.best != nil && (pick < 0 || l.best.gain > open[pick].best.gain) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		l := open[pick]
		open = slices.Delete(open, pick, pick+1)

		var leftRows, rightRows []int
		bins := data.bins[l.best.feature]
		for _, r := range l.rows {
			if int(bins[r]) <= l.best.bin {
				leftRows = append(leftRows, r)
			} else {
				rightRows = append(rightRows, r)
			}
		}

		left := newLeaf(t, leftRows, grad, hess, l.depth+1, cfg)
		right := newLeaf(t, rightRows, grad, hess, l.depth+1, cfg)
		n := &t.Nodes[l.node]
		n.Feature = l.best.feature
		n.Threshold = l.best.threshold
		n.Left = left.node
		n.Right = right.node
		leaves++

		for _, child := range []*leaf{left, right} {
			child.best = bestSplit(data, grad, hess, child, cfg)
			open = append(open, child)
		}
	}
	return t
}

func newLeaf(t *Tree, rows []int, grad, hess []float64, depth int, cfg growConfig) *leaf {
	l := &leaf{node: len(t.Nodes), depth: depth, rows: rows}
	for _, r := range rows {
		l.g += grad[r]
		l.h += hess[r]
	}
	t.Nodes = append(t.Nodes, Node{Value: leafWeight(l.g, l.h, cfg)})
	return l
}

func bestSplit(data *histData, grad, hess []float64, l *leaf, cfg growConfig) *split {
	if cfg.maxDepth > 0 && l.depth >= cfg.maxDepth {
		return nil
	}
	if len(l.rows) < max(cfg.minSamplesSplit, 2*max(cfg.minSamplesLeaf, 1)) {
		return nil
	}

	parent := score(l.g, l.h, cfg)
	var best *split
	var gh [maxBins]float64
	var hh [maxBins]float64
	var nh [maxBins]int

	for _, f := range cfg.features() {
		edges := data.edges[f]
		if len(edges) == 0 {
			continue
		}
		nb := len(edges) + 1
		clear(gh[:nb])
		clear(hh[:nb])
		clear(nh[:nb])
		bins := data.bins[f]
		for _, r := range l.rows {
			b := bins[r]
			gh[b] += grad[r]
			hh[b] += hess[r]
			nh[b]++
		}

		var gl, hl float64
		nl := 0
		for b := 0; b < nb-1; b++ {
			gl += gh[b]
			hl += hh[b]
			nl += nh[b]
			nr := len(l.rows) - nl
			if nl < cfg.minSamplesLeaf || nr < cfg.minSamplesLeaf || nl == 0 || nr == 0 {
				continue
			}
			hr := l.h - hl
			if hl < cfg.minHessian || hr < cfg.minHessian {
				continue
			}
			gain := score(gl, hl, cfg) + score(l.g-gl, hr, cfg) - parent
			if gain > cfg.minGain && (best == nil || gain > best.gain) {
				best = &split{feature: f, bin: b, threshold: edges[b], gain: gain}
			}
		}
	}
	return best
}

func softThreshold(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	default:
		return 0
	}
}

func score(g, h float64, cfg growConfig) float64 {
	den := h + cfg.lambda
	if den <= 0 {
		return 0
	}
	t := softThreshold(g, cfg.alpha)
	return t * t / den
}

func leafWeight(g, h float64, cfg growConfig) float64 {
	den := h + cfg.lambda
	if den <= 0 {
		return 0
	}
	return -softThreshold(g, cfg.alpha) / den
}

// sampleFeatures draws k distinct feature indices out of n.
func sampleFeatures(rng *rand.Rand, n, k int) []int {
	if k >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	perm := rng.Perm(n)[:k]
	slices.Sort(perm)
	return perm
}

// fractionOf returns max(1, round(frac*n)).
func fractionOf(n int, frac float64) int {
	return max(1, int(math.Round(frac*float64(n))))
}
