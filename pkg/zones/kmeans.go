package zones

import (
	"math"
	"math/rand/v2"
)

// kmeans partitions points into k clusters with k-means++ seeding and Lloyd
// iterations. It runs nInit seeded restarts and keeps the lowest inertia.
type kmeans struct {
	k       int
	maxIter int
	nInit   int
	tol     float64
	rng     *rand.Rand
}

type clustering struct {
	labels    []int
	centroids [][]float64
	inertia   float64
}

func (km kmeans) fit(points [][]float64) clustering {
	best := clustering{inertia: math.Inf(1)}
	for run := 0; run < km.nInit; run++ {
		c := km.run(points)
		if c.inertia < best.inertia {
			best = c
		}
	}
	return best
}

func (km kmeans) run(points [][]float64) clustering {
	centroids := km.seed(points)
	labels := make([]int, len(points))
	dim := len(points[0])

	for iter := 0; iter < km.maxIter; iter++ {
		for i, p := range points {
			labels[i], _ = nearest(p, centroids)
		}

		next := make([][]float64, km.k)
		counts := make([]int, km.k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, p := range points {
			counts[labels[i]]++
			for d, v := range p {
				next[labels[i]][d] += v
			}
		}

		shift := 0.0
		for c := range next {
			if counts[c] == 0 {
				// empty cluster keeps its centroid
				copy(next[c], centroids[c])
				continue
			}
			for d := range next[c] {
				next[c][d] /= float64(counts[c])
			}
			shift += sqDist(next[c], centroids[c])
		}
		centroids = next
		if shift <= km.tol {
			break
		}
	}

	inertia := 0.0
	for i, p := range points {
		var d float64
		labels[i], d = nearest(p, centroids)
		inertia += d
	}
	return clustering{labels: labels, centroids: centroids, inertia: inertia}
}

// seed picks initial centroids with k-means++: each new centroid is drawn
// with probability proportional to its squared distance from the nearest
// centroid chosen so far.
func (km kmeans) seed(points [][]float64) [][]float64 {
	centroids := make([][]float64, 0, km.k)
	centroids = append(centroids, clone(points[km.rng.IntN(len(points))]))

	dist := make([]float64, len(points))
	for len(centroids) < km.k {
		total := 0.0
		for i, p := range points {
			_, dist[i] = nearest(p, centroids)
			total += dist[i]
		}
		if total == 0 {
			centroids = append(centroids, clone(points[km.rng.IntN(len(points))]))
			continue
		}
		target := km.rng.Float64() * total
		idx := len(points) - 1
		for i, d := range dist {
			target -= d
			if target < 0 {
				idx = i
				break
			}
		}
		centroids = append(centroids, clone(points[idx]))
	}
	return centroids
}

func nearest(p []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}
