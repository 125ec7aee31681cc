// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbor search over face embeddings.
//
// Vectors are registered under caller-chosen ids so that the same id resolves
// to the same embedding in the cluster assignment table and in this index.
package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/photodex/metric"
	"github.com/hupe1980/photodex/queue"
)

const (
	// DefaultM is the default number of bidirectional links per node and layer.
	DefaultM = 16

	// DefaultEFConstruction is the default candidate list width during insertion.
	DefaultEFConstruction = 200

	// minimumM is the smallest valid value for M. M == 1 would make the layer
	// normalization factor 1/log(M) divide by zero.
	minimumM = 2
)

var (
	// ErrDuplicateID is returned when a vector id is already indexed.
	ErrDuplicateID = errors.New("hnsw: duplicate id")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("hnsw: k must be positive")

	// ErrInvalidParameter is returned for invalid construction parameters.
	ErrInvalidParameter = errors.New("hnsw: invalid parameter")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Entry is an (id, vector) pair for batch insertion.
type Entry struct {
	ID     uint32
	Vector []float32
}

// SearchResult is an (id, distance) pair returned by searches.
type SearchResult struct {
	ID       uint32
	Distance float32
}

// Options represents the options for configuring the index.
type Options struct {
	// M specifies the number of established connections for every new element
	// during construction. The range M=12-48 works for most embedding workloads;
	// face descriptors benefit from the higher end.
	M int

	// EFConstruction specifies the size of the dynamic candidate list during
	// insertion. Larger values improve graph quality at the cost of build time.
	EFConstruction int

	// EFSearch overrides the candidate list width during queries.
	// When zero, searches fall back to k.
	EFSearch int

	// Metric selects the distance function, fixed at construction.
	Metric metric.Metric

	// Heuristic enables the neighbor-selection heuristic from the HNSW paper
	// instead of naive closest-M selection.
	Heuristic bool

	// RandomSeed fixes the layer-assignment RNG for reproducible graphs.
	// Nil seeds from the current time.
	RandomSeed *int64
}

// DefaultOptions holds the default index configuration.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	Metric:         metric.MetricCosine,
	Heuristic:      true,
}

type node struct {
	id          uint32
	vector      []float32
	layer       int
	connections [][]uint32 // per-layer adjacency, index 0 is the base layer
}

// Index is the navigable small world graph.
type Index struct {
	mu sync.RWMutex

	dimension int
	mmax      int     // max connections per layer
	mmax0     int     // max connections at layer 0
	ml        float64 // normalization factor for layer generation

	ep       uint32 // entry point id
	maxLevel int

	nodes map[uint32]*node
	rng   *rand.Rand

	distFunc metric.Func
	opts     Options
}

// New creates a new index for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dimension < 1 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidParameter, dimension)
	}
	if opts.M < minimumM {
		return nil, fmt.Errorf("%w: M %d (minimum %d)", ErrInvalidParameter, opts.M, minimumM)
	}
	if opts.EFConstruction < 1 {
		return nil, fmt.Errorf("%w: efConstruction %d", ErrInvalidParameter, opts.EFConstruction)
	}

	distFunc, err := metric.Provider(opts.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	var rng *rand.Rand
	if opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*opts.RandomSeed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Index{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		nodes:     make(map[uint32]*node),
		rng:       rng,
		distFunc:  distFunc,
		opts:      opts,
	}, nil
}

// Add inserts a vector under the given id.
func (idx *Index) Add(id uint32, v []float32) error {
	if len(v) != idx.dimension {
		return &ErrDimensionMismatch{Expected: idx.dimension, Actual: len(v)}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.nodes[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	// Copy so later caller mutation cannot corrupt the graph.
	vec := make([]float32, len(v))
	copy(vec, v)

	layer := idx.randomLayer()
	n := &node{
		id:          id,
		vector:      vec,
		layer:       layer,
		connections: make([][]uint32, layer+1),
	}

	if len(idx.nodes) == 0 {
		idx.nodes[id] = n
		idx.ep = id
		idx.maxLevel = layer
		return nil
	}

	idx.insertNode(n)
	idx.nodes[id] = n

	// Link neighbors back, making the node reachable.
	for level := min(n.layer, idx.maxLevel); level >= 0; level-- {
		for _, neighbor := range n.connections[level] {
			idx.link(neighbor, n, level)
		}
	}

	if n.layer > idx.maxLevel {
		idx.ep = n.id
		idx.maxLevel = n.layer
	}

	return nil
}

// AddBatch inserts multiple entries, tolerating partial failure.
// The returned slice holds one result per entry; entries added before a
// failure remain added.
func (idx *Index) AddBatch(entries []Entry) []error {
	errs := make([]error, len(entries))
	for i, e := range entries {
		errs[i] = idx.Add(e.ID, e.Vector)
	}
	return errs
}

// SearchKNN returns up to k nearest neighbors of the query, ascending by
// distance. The candidate frontier width is max(k, Options.EFSearch).
func (idx *Index) SearchKNN(q []float32, k int) ([]SearchResult, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(q) != idx.dimension {
		return nil, &ErrDimensionMismatch{Expected: idx.dimension, Actual: len(q)}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes) == 0 {
		return nil, nil
	}

	ef := k
	if idx.opts.EFSearch > ef {
		ef = idx.opts.EFSearch
	}

	epID, epDist := idx.descend(q, idx.maxLevel, 0)
	results := idx.searchLayer(q, queue.Item{Node: epID, Distance: epDist}, 0, ef)

	for results.Len() > k {
		_, _ = results.PopItem()
	}

	out := make([]SearchResult, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		item, _ := results.PopItem()
		out[i] = SearchResult{ID: item.Node, Distance: item.Distance}
	}

	return out, nil
}

// SearchRadius returns every indexed vector within radius of the query,
// ascending by distance with ties broken by id. The scan is exact, which keeps
// density clustering reproducible.
func (idx *Index) SearchRadius(q []float32, radius float32) ([]SearchResult, error) {
	if len(q) != idx.dimension {
		return nil, &ErrDimensionMismatch{Expected: idx.dimension, Actual: len(q)}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []SearchResult
	for id, n := range idx.nodes {
		if d := idx.distFunc(q, n.vector); d <= radius {
			out = append(out, SearchResult{ID: id, Distance: d})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

// Vector returns the indexed vector for the given id.
func (idx *Index) Vector(id uint32) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n, ok := idx.nodes[id]
	if !ok {
		return nil, false
	}
	return n.vector, true
}

// Contains reports whether the id is indexed.
func (idx *Index) Contains(id uint32) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	_, ok := idx.nodes[id]
	return ok
}

// Dimension returns the dimensionality of the indexed vectors.
func (idx *Index) Dimension() int { return idx.dimension }

// randomLayer draws the layer for a new node from the exponential
// distribution parameterized by ml.
func (idx *Index) randomLayer() int {
	r := idx.rng.Float64()
	for r == 0 {
		r = idx.rng.Float64()
	}
	return int(math.Floor(-math.Log(r) * idx.ml))
}

// descend runs the greedy search from the entry point down to toLevel+1 and
// returns the closest node found together with its distance.
func (idx *Index) descend(q []float32, fromLevel, toLevel int) (uint32, float32) {
	currID := idx.ep
	currDist := idx.distFunc(q, idx.nodes[currID].vector)

	for level := fromLevel; level > toLevel; level-- {
		changed := true
		for changed {
			changed = false
			curr := idx.nodes[currID]
			if level > curr.layer {
				continue
			}
			for _, neighbor := range curr.connections[level] {
				if d := idx.distFunc(q, idx.nodes[neighbor].vector); d < currDist {
					currID = neighbor
					currDist = d
					changed = true
				}
			}
		}
	}

	return currID, currDist
}

// insertNode finds and records the connections of a new node on every layer
// from min(node.layer, maxLevel) down to 0.
func (idx *Index) insertNode(n *node) {
	epID, epDist := idx.descend(n.vector, idx.maxLevel, n.layer)

	for level := min(n.layer, idx.maxLevel); level >= 0; level-- {
		candidates := idx.searchLayer(n.vector, queue.Item{Node: epID, Distance: epDist}, level, idx.opts.EFConstruction)

		// Best candidate seeds the next layer down.
		if best, ok := candidates.MinItem(); ok {
			epID = best.Node
			epDist = best.Distance
		}

		maxConns := idx.mmax
		if level == 0 {
			maxConns = idx.mmax0
		}

		n.connections[level] = idx.selectNeighbors(candidates, maxConns)
	}
}

// searchLayer expands a candidate frontier of width ef on one layer and
// returns a max-ordered queue of the closest results.
func (idx *Index) searchLayer(q []float32, ep queue.Item, level, ef int) *queue.PriorityQueue {
	var visited bitset.BitSet
	visited.Set(uint(ep.Node))

	candidates := queue.NewMin(ef)
	candidates.PushItem(ep)

	results := queue.NewMax(ef)
	results.PushItem(ep)

	for candidates.Len() > 0 {
		curr, _ := candidates.PopItem()

		if worst, ok := results.TopItem(); ok && curr.Distance > worst.Distance {
			break
		}

		currNode := idx.nodes[curr.Node]
		if level > currNode.layer {
			continue
		}

		for _, neighbor := range currNode.connections[level] {
			if visited.Test(uint(neighbor)) {
				continue
			}
			visited.Set(uint(neighbor))

			d := idx.distFunc(q, idx.nodes[neighbor].vector)
			worst, _ := results.TopItem()

			if results.Len() < ef {
				item := queue.Item{Node: neighbor, Distance: d}
				results.PushItem(item)
				candidates.PushItem(item)
			} else if d < worst.Distance {
				item := queue.Item{Node: neighbor, Distance: d}
				_, _ = results.PopItem()
				results.PushItem(item)
				candidates.PushItem(item)
			}
		}
	}

	return results
}

// selectNeighbors drains the candidate queue into at most m connection ids,
// closest first.
func (idx *Index) selectNeighbors(candidates *queue.PriorityQueue, m int) []uint32 {
	if idx.opts.Heuristic {
		return idx.selectNeighborsHeuristic(candidates, m)
	}
	return idx.selectNeighborsSimple(candidates, m)
}

func (idx *Index) selectNeighborsSimple(candidates *queue.PriorityQueue, m int) []uint32 {
	for candidates.Len() > m {
		_, _ = candidates.PopItem()
	}

	conns := make([]uint32, candidates.Len())
	for i := candidates.Len() - 1; i >= 0; i-- {
		item, _ := candidates.PopItem()
		conns[i] = item.Node
	}
	return conns
}

// selectNeighborsHeuristic keeps a candidate only when it is closer to the
// inserted vector than to every neighbor already selected, preserving the
// relative neighborhood property that keeps the graph navigable.
func (idx *Index) selectNeighborsHeuristic(candidates *queue.PriorityQueue, m int) []uint32 {
	if candidates.Len() <= m {
		return idx.selectNeighborsSimple(candidates, m)
	}

	// Drain the max-queue into ascending distance order.
	ordered := make([]queue.Item, candidates.Len())
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i], _ = candidates.PopItem()
	}

	selected := make([]queue.Item, 0, m)
	var spilled []queue.Item

	for _, cand := range ordered {
		if len(selected) >= m {
			break
		}

		good := true
		for _, s := range selected {
			if idx.distFunc(idx.nodes[s.Node].vector, idx.nodes[cand.Node].vector) < cand.Distance {
				good = false
				break
			}
		}

		if good {
			selected = append(selected, cand)
		} else {
			spilled = append(spilled, cand)
		}
	}

	for _, cand := range spilled {
		if len(selected) >= m {
			break
		}
		selected = append(selected, cand)
	}

	conns := make([]uint32, len(selected))
	for i, s := range selected {
		conns[i] = s.Node
	}
	return conns
}

// link connects an existing node to the new one, pruning back to the
// connection budget when the neighbor list overflows.
func (idx *Index) link(id uint32, newNode *node, level int) {
	maxConns := idx.mmax
	if level == 0 {
		maxConns = idx.mmax0
	}

	n := idx.nodes[id]
	n.connections[level] = append(n.connections[level], newNode.id)

	if len(n.connections[level]) <= maxConns {
		return
	}

	candidates := queue.NewMax(len(n.connections[level]))
	for _, conn := range n.connections[level] {
		candidates.PushItem(queue.Item{
			Node:     conn,
			Distance: idx.distFunc(n.vector, idx.nodes[conn].vector),
		})
	}

	n.connections[level] = idx.selectNeighbors(candidates, maxConns)
}
