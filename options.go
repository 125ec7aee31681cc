package photodex

import (
	"github.com/hupe1980/photodex/cluster"
	"github.com/hupe1980/photodex/dbscan"
	"github.com/hupe1980/photodex/hnsw"
	"github.com/hupe1980/photodex/metric"
)

// Options represents the options for configuring the engine.
type Options struct {
	// Logger receives structured diagnostics for all operations.
	Logger *Logger

	// Metrics receives operational metrics.
	Metrics MetricsCollector

	// Metric selects the distance function shared by the vector index and
	// the clusterer.
	Metric metric.Metric

	// M is the HNSW connectivity parameter.
	M int

	// EFConstruction is the HNSW build-time candidate list width.
	EFConstruction int

	// EFSearch is the HNSW query-time candidate list width. Zero falls back
	// to k per query.
	EFSearch int

	// Heuristic enables HNSW heuristic neighbor selection.
	Heuristic bool

	// RandomSeed fixes the HNSW layer RNG for reproducible graphs.
	RandomSeed *int64

	// Eps is the DBSCAN neighborhood radius.
	Eps float32

	// MinSamples is the DBSCAN core point threshold, counting the point
	// itself.
	MinSamples int

	// EpsJoin is the adoption radius for incremental cluster assignment.
	// Zero falls back to Eps.
	EpsJoin float32

	// SnapshotCompression selects the clustering snapshot compression.
	SnapshotCompression cluster.Compression

	// HistoryLimit bounds the finished clustering task history.
	HistoryLimit int
}

// DefaultOptions holds the default engine configuration.
var DefaultOptions = Options{
	Metric:              metric.MetricCosine,
	M:                   hnsw.DefaultM,
	EFConstruction:      hnsw.DefaultEFConstruction,
	Heuristic:           true,
	Eps:                 dbscan.DefaultEps,
	MinSamples:          dbscan.DefaultMinSamples,
	SnapshotCompression: cluster.CompressionLZ4,
	HistoryLimit:        cluster.DefaultHistoryLimit,
}

// String returns a pointer to the given string. Convenience for building
// queries with optional criteria.
func String(s string) *string { return &s }

// Uint32 returns a pointer to the given uint32. Convenience for building
// queries with optional criteria.
func Uint32(v uint32) *uint32 { return &v }
