package photodex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    ingestCounter   prometheus.Counter
//	    searchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordIngest(faces int, duration time.Duration, err error) {
//	    p.ingestCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordIngest is called after each photo ingestion.
	// faces is the number of face embeddings attached, duration is the total
	// time taken, err is nil if successful.
	RecordIngest(faces int, duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// k is the number of results requested, duration is the time taken,
	// err is nil if successful.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordGeocode is called after each reverse geocode lookup.
	RecordGeocode(duration time.Duration, err error)

	// RecordClusterTask is called when a clustering task finishes.
	// clusters and noise describe the final labeling.
	RecordClusterTask(clusters, noise int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(int, time.Duration, error)           {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)           {}
func (NoopMetricsCollector) RecordGeocode(time.Duration, error)               {}
func (NoopMetricsCollector) RecordClusterTask(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount       atomic.Int64
	IngestErrors      atomic.Int64
	IngestFaces       atomic.Int64
	SearchCount       atomic.Int64
	SearchErrors      atomic.Int64
	SearchTotalNanos  atomic.Int64
	GeocodeCount      atomic.Int64
	GeocodeErrors     atomic.Int64
	ClusterTaskCount  atomic.Int64
	ClusterTaskErrors atomic.Int64
	ClusterTaskNoise  atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(faces int, duration time.Duration, err error) {
	b.IngestCount.Add(1)
	b.IngestFaces.Add(int64(faces))
	if err != nil {
		b.IngestErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordGeocode implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGeocode(duration time.Duration, err error) {
	b.GeocodeCount.Add(1)
	if err != nil {
		b.GeocodeErrors.Add(1)
	}
}

// RecordClusterTask implements MetricsCollector.
func (b *BasicMetricsCollector) RecordClusterTask(clusters, noise int, duration time.Duration, err error) {
	b.ClusterTaskCount.Add(1)
	b.ClusterTaskNoise.Add(int64(noise))
	if err != nil {
		b.ClusterTaskErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IngestCount:       b.IngestCount.Load(),
		IngestErrors:      b.IngestErrors.Load(),
		IngestFaces:       b.IngestFaces.Load(),
		SearchCount:       b.SearchCount.Load(),
		SearchErrors:      b.SearchErrors.Load(),
		SearchAvgNanos:    b.getAvgSearchNanos(),
		GeocodeCount:      b.GeocodeCount.Load(),
		GeocodeErrors:     b.GeocodeErrors.Load(),
		ClusterTaskCount:  b.ClusterTaskCount.Load(),
		ClusterTaskErrors: b.ClusterTaskErrors.Load(),
		ClusterTaskNoise:  b.ClusterTaskNoise.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IngestCount       int64
	IngestErrors      int64
	IngestFaces       int64
	SearchCount       int64
	SearchErrors      int64
	SearchAvgNanos    int64
	GeocodeCount      int64
	GeocodeErrors     int64
	ClusterTaskCount  int64
	ClusterTaskErrors int64
	ClusterTaskNoise  int64
}
