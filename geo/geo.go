// Package geo implements an offline reverse geocoder over administrative
// boundary polygons. Boundaries are loaded once at startup and queried many
// times; a query maps a GPS coordinate to the most specific region containing
// it via a ray-casting point-in-polygon test with a bounding-box prefilter.
package geo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no loaded polygon contains the coordinate.
	ErrNotFound = errors.New("geo: no matching location found")

	// ErrInvalidCoordinate is returned for coordinates outside the WGS84 ranges.
	ErrInvalidCoordinate = errors.New("geo: invalid coordinate")
)

// ErrInvalidGeometry indicates a degenerate polygon in a boundary set.
type ErrInvalidGeometry struct {
	Name     string // Name of the offending boundary
	Vertices int    // Vertices it carries
}

// Error returns the error message for invalid geometry.
func (e *ErrInvalidGeometry) Error() string {
	return fmt.Sprintf("geo: boundary %q has %d vertices, need at least 3", e.Name, e.Vertices)
}

// Result is the outcome of one coordinate in a batch lookup.
type Result struct {
	Tag LocationTag
	Err error
}

// Stats counts the loaded boundaries per administrative level.
type Stats struct {
	Countries int
	Provinces int
	Cities    int
	Districts int
}

// DefaultCacheSize bounds the lookup result cache.
const DefaultCacheSize = 4096

// Options represents the options for configuring the geocoder.
type Options struct {
	// Logger receives load and lookup diagnostics.
	Logger *slog.Logger

	// CacheSize bounds the memoized lookup results. Zero or negative
	// disables the cache.
	CacheSize int
}

// DefaultOptions holds the default geocoder configuration.
var DefaultOptions = Options{
	Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	CacheSize: DefaultCacheSize,
}

// Index is the offline reverse geocoder.
type Index struct {
	mu sync.RWMutex

	boundaries []Boundary
	boxes      []boundingBox
	cityIndex  map[string]int // city name to boundary position

	cache  *lruCache
	logger *slog.Logger
}

// New creates an empty geocoder. Call LoadBoundaries before querying.
func New(optFns ...func(o *Options)) *Index {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	var cache *lruCache
	if opts.CacheSize > 0 {
		cache = newLRUCache(opts.CacheSize)
	}

	return &Index{
		cityIndex: make(map[string]int),
		cache:     cache,
		logger:    opts.Logger,
	}
}

// LoadBoundaries replaces the active boundary set. Every polygon needs at
// least 3 vertices; on any invalid geometry the previously loaded set stays
// active. City-level boundaries are additionally indexed by name.
func (idx *Index) LoadBoundaries(boundaries []Boundary) error {
	boxes := make([]boundingBox, len(boundaries))
	cityIndex := make(map[string]int)

	for i, b := range boundaries {
		if len(b.Vertices) < 3 {
			return &ErrInvalidGeometry{Name: b.Name, Vertices: len(b.Vertices)}
		}
		boxes[i] = computeBoundingBox(b.Vertices)

		if b.Level == LevelCity {
			if _, ok := cityIndex[b.Name]; !ok {
				cityIndex[b.Name] = i
			}
		}
	}

	idx.mu.Lock()
	idx.boundaries = boundaries
	idx.boxes = boxes
	idx.cityIndex = cityIndex
	idx.mu.Unlock()

	if idx.cache != nil {
		idx.cache.purge()
	}

	idx.logger.Debug("loaded boundary set", "boundaries", len(boundaries), "cities", len(cityIndex))

	return nil
}

// ReverseGeocode maps a coordinate to the tag of the most specific boundary
// containing it. Same-level ties resolve to the first loaded boundary. GPS
// sentinel coordinates like (0,0) resolve to nothing.
func (idx *Index) ReverseGeocode(c Coordinate) (LocationTag, error) {
	if !c.Valid() {
		return LocationTag{}, fmt.Errorf("%w: lat %v lon %v", ErrInvalidCoordinate, c.Lat, c.Lon)
	}
	if c.sentinel() {
		return LocationTag{}, ErrNotFound
	}

	key := keyFor(c)
	if idx.cache != nil {
		if tag, ok, hit := idx.cache.get(key); hit {
			if !ok {
				return LocationTag{}, ErrNotFound
			}
			return tag, nil
		}
	}

	idx.mu.RLock()

	var (
		found     bool
		bestLevel Level
		bestTag   LocationTag
	)

	for i, b := range idx.boundaries {
		if !idx.boxes[i].contains(c) {
			continue
		}
		if !pointInPolygon(c, b.Vertices) {
			continue
		}
		// Strictly greater keeps the first loaded boundary on level ties.
		if !found || b.Level > bestLevel {
			found = true
			bestLevel = b.Level
			bestTag = b.Tag
		}
	}

	idx.mu.RUnlock()

	if idx.cache != nil {
		idx.cache.set(key, bestTag, found)
	}

	if !found {
		return LocationTag{}, ErrNotFound
	}

	return bestTag, nil
}

// BatchReverseGeocode resolves each coordinate independently. A failed point
// never aborts the batch.
func (idx *Index) BatchReverseGeocode(coords []Coordinate) []Result {
	results := make([]Result, len(coords))
	for i, c := range coords {
		results[i].Tag, results[i].Err = idx.ReverseGeocode(c)
	}
	return results
}

// FindByCity returns the tag of the city-level boundary with the given name.
func (idx *Index) FindByCity(name string) (LocationTag, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i, ok := idx.cityIndex[name]
	if !ok {
		return LocationTag{}, false
	}
	return idx.boundaries[i].Tag, true
}

// FindByCityPrefix returns the tags of every city whose name starts with the
// prefix, ordered by city name.
func (idx *Index) FindByCityPrefix(prefix string) []LocationTag {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	names := make([]string, 0, len(idx.cityIndex))
	for name := range idx.cityIndex {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tags := make([]LocationTag, len(names))
	for i, name := range names {
		tags[i] = idx.boundaries[idx.cityIndex[name]].Tag
	}
	return tags
}

// Stats returns per-level boundary counts.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var stats Stats
	for _, b := range idx.boundaries {
		switch b.Level {
		case LevelCountry:
			stats.Countries++
		case LevelProvince:
			stats.Provinces++
		case LevelCity:
			stats.Cities++
		case LevelDistrict:
			stats.Districts++
		}
	}
	return stats
}

// pointInPolygon runs the even-odd ray casting test. A horizontal ray from
// the point toward +lon flips in/out at every crossed edge.
func pointInPolygon(c Coordinate, vertices []Vertex) bool {
	if len(vertices) < 3 {
		return false
	}

	inside := false
	j := len(vertices) - 1

	for i := range vertices {
		yi, xi := vertices[i].Lat, vertices[i].Lon
		yj, xj := vertices[j].Lat, vertices[j].Lon

		if (yi > c.Lat) != (yj > c.Lat) &&
			c.Lon < (xj-xi)*(c.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}

		j = i
	}

	return inside
}
