package hnsw

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"time"

	"github.com/hupe1980/photodex/metric"
)

// Compile time checks to ensure Index satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*Index)(nil)
	_ gob.GobDecoder = (*Index)(nil)
)

// gobNode is the wire form of a graph node.
type gobNode struct {
	ID          uint32
	Vector      []float32
	Layer       int
	Connections [][]uint32
}

// gobIndex is the wire form of the graph.
type gobIndex struct {
	Dimension int
	ML        float64
	EP        uint32
	MaxLevel  int
	Nodes     []gobNode
	Options   Options
}

// GobEncode serializes the graph so the surrounding application can persist
// the index alongside the cluster snapshot.
func (idx *Index) GobEncode() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	wire := gobIndex{
		Dimension: idx.dimension,
		ML:        idx.ml,
		EP:        idx.ep,
		MaxLevel:  idx.maxLevel,
		Nodes:     make([]gobNode, 0, len(idx.nodes)),
		Options:   idx.opts,
	}

	for _, n := range idx.nodes {
		wire.Nodes = append(wire.Nodes, gobNode{
			ID:          n.id,
			Vector:      n.vector,
			Layer:       n.layer,
			Connections: n.connections,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode restores a graph serialized by GobEncode.
func (idx *Index) GobDecode(data []byte) error {
	var wire gobIndex
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}

	distFunc, err := metric.Provider(wire.Options.Metric)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.dimension = wire.Dimension
	idx.ml = wire.ML
	idx.ep = wire.EP
	idx.maxLevel = wire.MaxLevel
	idx.opts = wire.Options
	idx.mmax = wire.Options.M
	idx.mmax0 = 2 * wire.Options.M
	idx.distFunc = distFunc

	seed := time.Now().UnixNano()
	if wire.Options.RandomSeed != nil {
		seed = *wire.Options.RandomSeed
	}
	idx.rng = rand.New(rand.NewSource(seed))
	if idx.ml == 0 {
		idx.ml = 1 / math.Log(float64(wire.Options.M))
	}

	idx.nodes = make(map[uint32]*node, len(wire.Nodes))
	for _, n := range wire.Nodes {
		idx.nodes[n.ID] = &node{
			id:          n.ID,
			vector:      n.Vector,
			layer:       n.Layer,
			connections: n.Connections,
		}
	}

	return nil
}
