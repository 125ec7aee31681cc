// Package dbscan implements density-based clustering over face embeddings.
// Points in dense regions form clusters, isolated points stay noise. Results
// are deterministic for a fixed input order.
package dbscan

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/photodex/hnsw"
	"github.com/hupe1980/photodex/metric"
)

const (
	// Noise is the label of points that belong to no cluster.
	Noise uint32 = 0

	// DefaultEps is the default neighborhood radius.
	DefaultEps float32 = 0.5

	// DefaultMinSamples is the default core point threshold, counting the
	// point itself.
	DefaultMinSamples = 3
)

var (
	// ErrInvalidParameter is returned for invalid clustering parameters.
	ErrInvalidParameter = errors.New("dbscan: invalid parameter")

	// ErrDimensionMismatch is returned when input vectors disagree on dimensionality.
	ErrDimensionMismatch = errors.New("dbscan: inconsistent vector dimensions")

	// ErrNotFitted is returned when incremental prediction runs before FitPredict.
	ErrNotFitted = errors.New("dbscan: no fitted data")
)

// NeighborIndex accelerates eps-neighborhood queries. *hnsw.Index satisfies
// it; vectors must be registered under their positions in the fitted slice.
type NeighborIndex interface {
	SearchRadius(q []float32, radius float32) ([]hnsw.SearchResult, error)
}

// Result holds the outcome of one clustering run.
type Result struct {
	// Labels assigns a cluster id to each input point, Noise (0) for outliers.
	// Cluster ids start at 1 and follow discovery order.
	Labels []uint32

	// NumClusters is the number of clusters found.
	NumClusters int

	// NumNoise is the number of points labeled Noise.
	NumNoise int
}

// Options represents the options for configuring the clusterer.
type Options struct {
	// Eps is the neighborhood radius.
	Eps float32

	// MinSamples is the minimum neighborhood size, including the point
	// itself, for a point to be a core point.
	MinSamples int

	// Metric selects the distance function.
	Metric metric.Metric

	// NeighborIndex, when set, serves eps-neighborhood queries instead of
	// the built-in linear scan.
	NeighborIndex NeighborIndex
}

// DefaultOptions holds the default clusterer configuration.
var DefaultOptions = Options{
	Eps:        DefaultEps,
	MinSamples: DefaultMinSamples,
	Metric:     metric.MetricCosine,
}

// Clusterer runs DBSCAN and retains the fitted points for incremental
// assignment of later arrivals.
type Clusterer struct {
	opts     Options
	distFunc metric.Func

	points [][]float32
}

// New creates a clusterer.
func New(optFns ...func(o *Options)) (*Clusterer, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Eps <= 0 {
		return nil, fmt.Errorf("%w: eps %v", ErrInvalidParameter, opts.Eps)
	}
	if opts.MinSamples < 1 {
		return nil, fmt.Errorf("%w: minSamples %d", ErrInvalidParameter, opts.MinSamples)
	}

	distFunc, err := metric.Provider(opts.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	return &Clusterer{
		opts:     opts,
		distFunc: distFunc,
	}, nil
}

// FitPredict clusters the given points. The points are retained for later
// PredictIncremental calls. An empty input yields an empty result.
func (c *Clusterer) FitPredict(points [][]float32) (*Result, error) {
	if len(points) == 0 {
		return &Result{}, nil
	}

	dim := len(points[0])
	for _, p := range points[1:] {
		if len(p) != dim {
			return nil, ErrDimensionMismatch
		}
	}

	c.points = points

	labels := make([]uint32, len(points))
	var visited bitset.BitSet
	next := uint32(1)

	for i := range points {
		if visited.Test(uint(i)) {
			continue
		}
		visited.Set(uint(i))

		neighbors, err := c.neighborhood(points[i], c.opts.Eps)
		if err != nil {
			return nil, err
		}
		if len(neighbors) < c.opts.MinSamples {
			continue // noise unless a core point claims it later
		}

		cid := next
		next++
		labels[i] = cid

		// Breadth-first expansion. Core neighborhoods extend the frontier,
		// border points join the cluster without expanding it.
		frontier := neighbors
		for cursor := 0; cursor < len(frontier); cursor++ {
			j := frontier[cursor]

			if !visited.Test(uint(j)) {
				visited.Set(uint(j))

				jNeighbors, err := c.neighborhood(points[j], c.opts.Eps)
				if err != nil {
					return nil, err
				}
				if len(jNeighbors) >= c.opts.MinSamples {
					frontier = append(frontier, jNeighbors...)
				}
			}

			if labels[j] == Noise {
				labels[j] = cid
			}
		}
	}

	result := &Result{
		Labels:      labels,
		NumClusters: int(next - 1),
	}
	for _, l := range labels {
		if l == Noise {
			result.NumNoise++
		}
	}

	return result, nil
}

// PredictIncremental assigns labels to new points without re-clustering.
// Each new point adopts the cluster of its nearest non-noise fitted neighbor
// within epsJoin, or opens a fresh cluster one past the current maximum id.
// existingLabels must pair with the fitted points of the last FitPredict.
func (c *Clusterer) PredictIncremental(newPoints [][]float32, existingLabels []uint32, epsJoin float32) ([]uint32, error) {
	if len(newPoints) == 0 {
		return nil, nil
	}
	if epsJoin <= 0 {
		return nil, fmt.Errorf("%w: epsJoin %v", ErrInvalidParameter, epsJoin)
	}
	if len(c.points) == 0 {
		return nil, ErrNotFitted
	}
	if len(existingLabels) != len(c.points) {
		return nil, fmt.Errorf("%w: %d labels for %d fitted points", ErrInvalidParameter, len(existingLabels), len(c.points))
	}

	maxID := Noise
	for _, l := range existingLabels {
		maxID = max(maxID, l)
	}

	dim := len(c.points[0])
	out := make([]uint32, len(newPoints))

	for i, p := range newPoints {
		if len(p) != dim {
			return nil, ErrDimensionMismatch
		}

		adopted := false
		bestDist := epsJoin

		for j, fitted := range c.points {
			if existingLabels[j] == Noise {
				continue
			}
			if d := c.distFunc(p, fitted); d <= bestDist {
				if d == bestDist && adopted {
					continue // first fitted point wins the tie
				}
				adopted = true
				bestDist = d
				out[i] = existingLabels[j]
			}
		}

		if !adopted {
			maxID++
			out[i] = maxID
		}
	}

	return out, nil
}

// neighborhood returns the positions of every fitted point within eps of q,
// including q itself, in ascending position order for the linear scan and in
// ascending distance order when a NeighborIndex serves the query. Both
// orders are deterministic.
func (c *Clusterer) neighborhood(q []float32, eps float32) ([]int, error) {
	if c.opts.NeighborIndex != nil {
		results, err := c.opts.NeighborIndex.SearchRadius(q, eps)
		if err != nil {
			return nil, err
		}

		neighbors := make([]int, len(results))
		for i, r := range results {
			neighbors[i] = int(r.ID)
		}
		return neighbors, nil
	}

	var neighbors []int
	for i, p := range c.points {
		if c.distFunc(q, p) <= eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors, nil
}
