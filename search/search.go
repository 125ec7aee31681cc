// Package search implements hybrid photo retrieval: hard metadata filters
// narrow the candidate set via roaring bitmap posting lists, then a fused
// structural plus semantic score ranks what remains.
package search

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/photodex/hnsw"
)

const (
	// DefaultK is the result count when a query leaves K unset.
	DefaultK = 10

	// overfetchFactor widens the semantic candidate pool beyond k so the
	// fused score can reorder across both signals before truncation.
	overfetchFactor = 4

	// minOverfetch is the smallest semantic pool requested.
	minOverfetch = 32

	// textCriterionWeight discounts the free-text criterion inside the
	// structural mean. Text matches are noisier than exact metadata.
	textCriterionWeight = 0.5
)

var (
	// ErrInvalidQuery is returned for malformed queries.
	ErrInvalidQuery = errors.New("search: invalid query")

	// ErrNotFound is returned when removing an unknown record.
	ErrNotFound = errors.New("search: record not found")
)

// VectorSearcher serves semantic candidates. *hnsw.Index satisfies it.
type VectorSearcher interface {
	SearchKNN(q []float32, k int) ([]hnsw.SearchResult, error)
}

// Record is the per-photo metadata held by the engine. PersonID 0 means no
// person cluster assigned.
type Record struct {
	ID        uint32   `json:"id"`
	FilePath  string   `json:"file_path"`
	Timestamp int64    `json:"timestamp"`
	Location  string   `json:"location,omitempty"`
	PersonID  uint32   `json:"person_id,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	OCRText   string   `json:"ocr_text,omitempty"`
}

// TimeRange is an inclusive [Start, End] timestamp filter.
type TimeRange struct {
	Start int64
	End   int64
}

// Query describes one retrieval request. Nil pointer fields mean the
// criterion is absent.
type Query struct {
	Location  *string
	PersonID  *uint32
	Tags      []string
	TimeRange *TimeRange

	// Vector is the query embedding for semantic ranking. Nil disables the
	// semantic signal.
	Vector []float32

	// Text is matched against OCR text and file paths.
	Text string

	// StructuralWeight and SemanticWeight are normalized to sum to 1.
	// Both zero falls back to structural-only ranking.
	StructuralWeight float32
	SemanticWeight   float32

	// K caps the result count. Zero means DefaultK.
	K int
}

// Result is one ranked hit.
type Result struct {
	Record          Record
	RelevanceScore  float32
	StructuralScore float32
	SemanticScore   float32
}

// Stats summarizes the indexed corpus.
type Stats struct {
	Records   int
	Locations int
	Persons   int
	Tags      int
}

// Options represents the options for configuring the engine.
type Options struct {
	// Logger receives indexing and query diagnostics.
	Logger *slog.Logger
}

// DefaultOptions holds the default engine configuration.
var DefaultOptions = Options{
	Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
}

// Engine indexes metadata records and answers hybrid queries.
type Engine struct {
	mu sync.RWMutex

	records map[uint32]Record
	all     *roaring.Bitmap

	byLocation map[string]*roaring.Bitmap
	byPerson   map[uint32]*roaring.Bitmap
	byTag      map[string]*roaring.Bitmap

	text *bm25Index

	index  VectorSearcher
	logger *slog.Logger
}

// NewEngine creates an engine. A nil index disables semantic scoring.
func NewEngine(index VectorSearcher, optFns ...func(o *Options)) *Engine {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		records:    make(map[uint32]Record),
		all:        roaring.New(),
		byLocation: make(map[string]*roaring.Bitmap),
		byPerson:   make(map[uint32]*roaring.Bitmap),
		byTag:      make(map[string]*roaring.Bitmap),
		text:       newBM25Index(),
		index:      index,
		logger:     opts.Logger,
	}
}

// AddRecord inserts or replaces a record by id.
func (e *Engine) AddRecord(r Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.addLocked(r)
}

// AddRecords inserts or replaces multiple records.
func (e *Engine) AddRecords(records []Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range records {
		e.addLocked(r)
	}
}

func (e *Engine) addLocked(r Record) {
	if _, ok := e.records[r.ID]; ok {
		e.removeLocked(r.ID)
	}

	e.records[r.ID] = r
	e.all.Add(r.ID)

	if r.Location != "" {
		postingFor(e.byLocation, r.Location).Add(r.ID)
	}
	if r.PersonID != 0 {
		postingFor(e.byPerson, r.PersonID).Add(r.ID)
	}
	for _, tag := range r.Tags {
		postingFor(e.byTag, tag).Add(r.ID)
	}

	if text := r.OCRText + " " + r.FilePath; text != " " {
		e.text.add(r.ID, text)
	}

	e.logger.Debug("indexed record", "id", r.ID, "location", r.Location, "person", r.PersonID)
}

// RemoveRecord deletes a record and all its postings.
func (e *Engine) RemoveRecord(id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.records[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	e.removeLocked(id)
	return nil
}

func (e *Engine) removeLocked(id uint32) {
	r := e.records[id]

	if r.Location != "" {
		dropPosting(e.byLocation, r.Location, id)
	}
	if r.PersonID != 0 {
		dropPosting(e.byPerson, r.PersonID, id)
	}
	for _, tag := range r.Tags {
		dropPosting(e.byTag, tag, id)
	}

	e.text.delete(id)
	e.all.Remove(id)
	delete(e.records, id)
}

// UpdatePersonID reassigns the person cluster of a record, keeping the
// posting lists consistent. Used as clustering completes after ingestion.
func (e *Engine) UpdatePersonID(id, personID uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if r.PersonID != 0 {
		dropPosting(e.byPerson, r.PersonID, id)
	}
	r.PersonID = personID
	if personID != 0 {
		postingFor(e.byPerson, personID).Add(id)
	}
	e.records[id] = r

	return nil
}

// UpdateLocation resolves or corrects the location of a record.
func (e *Engine) UpdateLocation(id uint32, location string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if r.Location != "" {
		dropPosting(e.byLocation, r.Location, id)
	}
	r.Location = location
	if location != "" {
		postingFor(e.byLocation, location).Add(id)
	}
	e.records[id] = r

	return nil
}

// Record returns the stored record for the given id.
func (e *Engine) Record(id uint32) (Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.records[id]
	return r, ok
}

// Search ranks records against the query and returns at most K results,
// descending by relevance with ties broken by ascending id. Unknown filter
// values yield an empty result, not an error.
func (e *Engine) Search(q Query) ([]Result, error) {
	if q.K < 0 {
		return nil, fmt.Errorf("%w: k %d", ErrInvalidQuery, q.K)
	}
	if q.TimeRange != nil && q.TimeRange.Start > q.TimeRange.End {
		return nil, fmt.Errorf("%w: time range start %d after end %d", ErrInvalidQuery, q.TimeRange.Start, q.TimeRange.End)
	}

	k := q.K
	if k == 0 {
		k = DefaultK
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	candidates := e.filter(q)
	if candidates.IsEmpty() {
		return nil, nil
	}

	semantic, err := e.semanticScores(q, k)
	if err != nil {
		return nil, err
	}

	textScores := e.normalizedTextScores(q)

	structuralWeight, semanticWeight := normalizeWeights(q.StructuralWeight, q.SemanticWeight)

	results := make([]Result, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		r := e.records[id]

		structural := e.structuralScore(r, q, textScores)
		sem := semantic[id]

		results = append(results, Result{
			Record:          r,
			StructuralScore: structural,
			SemanticScore:   sem,
			RelevanceScore:  structuralWeight*structural + semanticWeight*sem,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].Record.ID < results[j].Record.ID
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// Stats returns corpus counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Records:   len(e.records),
		Locations: len(e.byLocation),
		Persons:   len(e.byPerson),
		Tags:      len(e.byTag),
	}
}

// filter intersects the hard criteria into a candidate bitmap.
func (e *Engine) filter(q Query) *roaring.Bitmap {
	candidates := e.all.Clone()

	if q.PersonID != nil {
		posting, ok := e.byPerson[*q.PersonID]
		if !ok {
			return roaring.New()
		}
		candidates.And(posting)
	}

	if q.Location != nil {
		posting, ok := e.byLocation[*q.Location]
		if !ok {
			return roaring.New()
		}
		candidates.And(posting)
	}

	if q.TimeRange != nil {
		inRange := roaring.New()
		it := candidates.Iterator()
		for it.HasNext() {
			id := it.Next()
			if ts := e.records[id].Timestamp; ts >= q.TimeRange.Start && ts <= q.TimeRange.End {
				inRange.Add(id)
			}
		}
		candidates = inRange
	}

	return candidates
}

// semanticScores maps record ids to 1 - d/dmax over an over-fetched k-NN
// pool. Records outside the pool score 0.
func (e *Engine) semanticScores(q Query, k int) (map[uint32]float32, error) {
	if q.Vector == nil || e.index == nil {
		return nil, nil
	}

	pool := max(overfetchFactor*k, minOverfetch)

	hits, err := e.index.SearchKNN(q.Vector, pool)
	if err != nil {
		return nil, fmt.Errorf("semantic candidates: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	dmax := hits[len(hits)-1].Distance

	scores := make(map[uint32]float32, len(hits))
	for _, h := range hits {
		if dmax == 0 {
			scores[h.ID] = 1
			continue
		}
		scores[h.ID] = 1 - h.Distance/dmax
	}

	return scores, nil
}

// normalizedTextScores scales raw BM25 scores into [0,1] by the best hit.
func (e *Engine) normalizedTextScores(q Query) map[uint32]float32 {
	if q.Text == "" {
		return nil
	}

	scores := e.text.search(q.Text)

	var best float32
	for _, s := range scores {
		best = max(best, s)
	}
	if best > 0 {
		for id, s := range scores {
			scores[id] = s / best
		}
	}

	return scores
}

// structuralScore is the weighted mean over the present criteria. Hard
// filtered criteria (person, location, time) score 1 for every survivor;
// tag overlap is |query ∩ record| / |query|.
func (e *Engine) structuralScore(r Record, q Query, textScores map[uint32]float32) float32 {
	var sum, weight float32

	if q.TimeRange != nil {
		sum++
		weight++
	}
	if q.Location != nil {
		sum++
		weight++
	}
	if q.PersonID != nil {
		sum++
		weight++
	}
	if len(q.Tags) > 0 {
		recordTags := make(map[string]struct{}, len(r.Tags))
		for _, tag := range r.Tags {
			recordTags[tag] = struct{}{}
		}

		var overlap int
		for _, tag := range q.Tags {
			if _, ok := recordTags[tag]; ok {
				overlap++
			}
		}

		sum += float32(overlap) / float32(len(q.Tags))
		weight++
	}
	if q.Text != "" {
		sum += textCriterionWeight * textScores[r.ID]
		weight += textCriterionWeight
	}

	if weight == 0 {
		return 0
	}
	return sum / weight
}

func postingFor[K comparable](m map[K]*roaring.Bitmap, key K) *roaring.Bitmap {
	posting, ok := m[key]
	if !ok {
		posting = roaring.New()
		m[key] = posting
	}
	return posting
}

func dropPosting[K comparable](m map[K]*roaring.Bitmap, key K, id uint32) {
	if posting, ok := m[key]; ok {
		posting.Remove(id)
		if posting.IsEmpty() {
			delete(m, key)
		}
	}
}

// normalizeWeights scales the two weights to sum to 1, falling back to
// structural-only ranking when both are 0.
func normalizeWeights(structural, semantic float32) (float32, float32) {
	total := structural + semantic
	if total == 0 {
		return 1, 0
	}
	return structural / total, semantic / total
}
