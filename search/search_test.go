package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/photodex/hnsw"
)

func strPtr(s string) *string { return &s }
func u32Ptr(v uint32) *uint32 { return &v }

func beachCorpus() []Record {
	return []Record{
		{
			ID:        1,
			FilePath:  "/photos/2024/xiamen_beach.jpg",
			Timestamp: 1700000000,
			Location:  "Xiamen",
			PersonID:  101,
			Tags:      []string{"beach", "sunset"},
		},
		{
			ID:        2,
			FilePath:  "/photos/2024/xiamen_street.jpg",
			Timestamp: 1700001000,
			Location:  "Xiamen",
			PersonID:  102,
			Tags:      []string{"street"},
		},
		{
			ID:        3,
			FilePath:  "/photos/2023/beijing.jpg",
			Timestamp: 1600000000,
			Location:  "Beijing",
			PersonID:  101,
			Tags:      []string{"beach"},
		},
	}
}

func TestSearchValidation(t *testing.T) {
	e := NewEngine(nil)

	t.Run("negative k", func(t *testing.T) {
		_, err := e.Search(Query{K: -1})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("inverted time range", func(t *testing.T) {
		_, err := e.Search(Query{TimeRange: &TimeRange{Start: 10, End: 5}})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestSearchHardFilters(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecords(beachCorpus())

	t.Run("person filter", func(t *testing.T) {
		results, err := e.Search(Query{PersonID: u32Ptr(101)})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, uint32(1), results[0].Record.ID)
		assert.Equal(t, uint32(3), results[1].Record.ID)
	})

	t.Run("location filter", func(t *testing.T) {
		results, err := e.Search(Query{Location: strPtr("Beijing")})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint32(3), results[0].Record.ID)
	})

	t.Run("time range filter", func(t *testing.T) {
		results, err := e.Search(Query{TimeRange: &TimeRange{Start: 1690000000, End: 1710000000}})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("combined filters", func(t *testing.T) {
		results, err := e.Search(Query{PersonID: u32Ptr(101), Location: strPtr("Xiamen")})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint32(1), results[0].Record.ID)
	})

	t.Run("unknown person yields empty result", func(t *testing.T) {
		results, err := e.Search(Query{PersonID: u32Ptr(999)})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("unknown location yields empty result", func(t *testing.T) {
		results, err := e.Search(Query{Location: strPtr("Atlantis")})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearchStructuralScore(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecords(beachCorpus())

	t.Run("full match scores 1", func(t *testing.T) {
		results, err := e.Search(Query{
			PersonID: u32Ptr(101),
			Location: strPtr("Xiamen"),
			Tags:     []string{"beach"},
		})
		require.NoError(t, err)
		require.Len(t, results, 1)

		assert.Equal(t, uint32(1), results[0].Record.ID)
		assert.InDelta(t, 1.0, float64(results[0].StructuralScore), 1e-6)
		assert.InDelta(t, 1.0, float64(results[0].RelevanceScore), 1e-6)
	})

	t.Run("partial tag overlap scores lower", func(t *testing.T) {
		results, err := e.Search(Query{
			Location: strPtr("Xiamen"),
			Tags:     []string{"beach"},
		})
		require.NoError(t, err)
		require.Len(t, results, 2)

		// Record 1 carries the beach tag, record 2 does not.
		assert.Equal(t, uint32(1), results[0].Record.ID)
		assert.InDelta(t, 1.0, float64(results[0].StructuralScore), 1e-6)

		assert.Equal(t, uint32(2), results[1].Record.ID)
		assert.InDelta(t, 0.5, float64(results[1].StructuralScore), 1e-6)
	})

	t.Run("tag overlap is fractional", func(t *testing.T) {
		results, err := e.Search(Query{Tags: []string{"beach", "sunset"}})
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, uint32(1), results[0].Record.ID)
		assert.InDelta(t, 1.0, float64(results[0].StructuralScore), 1e-6)

		assert.Equal(t, uint32(3), results[1].Record.ID)
		assert.InDelta(t, 0.5, float64(results[1].StructuralScore), 1e-6)
	})
}

func TestSearchTextScoring(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecords([]Record{
		{ID: 1, FilePath: "/p/1.jpg", OCRText: "departure board shanghai hongqiao"},
		{ID: 2, FilePath: "/p/2.jpg", OCRText: "menu seafood restaurant"},
	})

	results, err := e.Search(Query{Text: "shanghai"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, uint32(1), results[0].Record.ID)
	assert.Greater(t, results[0].StructuralScore, results[1].StructuralScore)
	assert.Zero(t, results[1].StructuralScore)
}

func TestSearchSemantic(t *testing.T) {
	idx, err := hnsw.New(4)
	require.NoError(t, err)
	require.NoError(t, idx.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0, 0}))
	require.NoError(t, idx.Add(3, []float32{0.9, 0.1, 0, 0}))

	e := NewEngine(idx)
	e.AddRecords([]Record{
		{ID: 1, FilePath: "/p/1.jpg"},
		{ID: 2, FilePath: "/p/2.jpg"},
		{ID: 3, FilePath: "/p/3.jpg"},
	})

	t.Run("semantic only", func(t *testing.T) {
		results, err := e.Search(Query{
			Vector:         []float32{1, 0, 0, 0},
			SemanticWeight: 1,
		})
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, uint32(1), results[0].Record.ID)
		assert.InDelta(t, 1.0, float64(results[0].SemanticScore), 1e-5)
		assert.Equal(t, uint32(3), results[1].Record.ID)
		assert.Equal(t, uint32(2), results[2].Record.ID)
		assert.InDelta(t, 0, float64(results[2].SemanticScore), 1e-5)
	})

	t.Run("no vector means semantic zero", func(t *testing.T) {
		results, err := e.Search(Query{Tags: []string{"x"}, SemanticWeight: 1})
		require.NoError(t, err)
		for _, r := range results {
			assert.Zero(t, r.SemanticScore)
		}
	})
}

func TestSearchWeightNormalization(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecords(beachCorpus())

	t.Run("zero weights fall back to structural", func(t *testing.T) {
		results, err := e.Search(Query{Location: strPtr("Xiamen"), Tags: []string{"beach"}})
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, results[0].StructuralScore, results[0].RelevanceScore)
	})

	t.Run("weights scale to sum 1", func(t *testing.T) {
		results, err := e.Search(Query{
			Location:         strPtr("Xiamen"),
			Tags:             []string{"beach"},
			StructuralWeight: 3,
			SemanticWeight:   1,
		})
		require.NoError(t, err)
		require.NotEmpty(t, results)

		// No vector, so relevance is 0.75 * structural.
		assert.InDelta(t, float64(results[0].StructuralScore)*0.75, float64(results[0].RelevanceScore), 1e-6)
	})
}

func TestSearchTruncation(t *testing.T) {
	e := NewEngine(nil)
	for id := uint32(1); id <= 25; id++ {
		e.AddRecord(Record{ID: id, FilePath: "/p.jpg", Tags: []string{"trip"}})
	}

	t.Run("default k", func(t *testing.T) {
		results, err := e.Search(Query{Tags: []string{"trip"}})
		require.NoError(t, err)
		assert.Len(t, results, DefaultK)
	})

	t.Run("explicit k", func(t *testing.T) {
		results, err := e.Search(Query{Tags: []string{"trip"}, K: 5})
		require.NoError(t, err)
		assert.Len(t, results, 5)
	})

	t.Run("ties break by ascending id", func(t *testing.T) {
		results, err := e.Search(Query{Tags: []string{"trip"}, K: 3})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, uint32(1), results[0].Record.ID)
		assert.Equal(t, uint32(2), results[1].Record.ID)
		assert.Equal(t, uint32(3), results[2].Record.ID)
	})
}

func TestAddRecordReplaces(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecord(Record{ID: 1, FilePath: "/p.jpg", Location: "Xiamen", Tags: []string{"beach"}})
	e.AddRecord(Record{ID: 1, FilePath: "/p.jpg", Location: "Beijing"})

	results, err := e.Search(Query{Location: strPtr("Xiamen")})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = e.Search(Query{Location: strPtr("Beijing")})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	assert.Equal(t, Stats{Records: 1, Locations: 1}, e.Stats())
}

func TestRemoveRecord(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecords(beachCorpus())

	require.NoError(t, e.RemoveRecord(1))
	assert.ErrorIs(t, e.RemoveRecord(1), ErrNotFound)

	results, err := e.Search(Query{PersonID: u32Ptr(101)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(3), results[0].Record.ID)
}

func TestUpdatePersonID(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecords(beachCorpus())

	require.NoError(t, e.UpdatePersonID(2, 101))

	results, err := e.Search(Query{PersonID: u32Ptr(101)})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = e.Search(Query{PersonID: u32Ptr(102)})
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, e.UpdatePersonID(99, 101), ErrNotFound)
}

func TestUpdateLocation(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecord(Record{ID: 1, FilePath: "/p.jpg"})

	require.NoError(t, e.UpdateLocation(1, "Xiamen"))

	results, err := e.Search(Query{Location: strPtr("Xiamen")})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	assert.ErrorIs(t, e.UpdateLocation(99, "Xiamen"), ErrNotFound)
}

func TestStats(t *testing.T) {
	e := NewEngine(nil)
	e.AddRecords(beachCorpus())

	stats := e.Stats()
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 2, stats.Locations)
	assert.Equal(t, 2, stats.Persons)
	assert.Equal(t, 3, stats.Tags)
}

func TestBM25Index(t *testing.T) {
	idx := newBM25Index()
	idx.add(1, "beach sunset xiamen")
	idx.add(2, "beach volleyball")
	idx.add(3, "mountain hike")

	t.Run("term frequency ranks", func(t *testing.T) {
		scores := idx.search("beach")
		assert.Len(t, scores, 2)
		assert.Positive(t, scores[1])
		assert.Positive(t, scores[2])
	})

	t.Run("unknown term", func(t *testing.T) {
		assert.Empty(t, idx.search("ocean"))
	})

	t.Run("delete removes postings", func(t *testing.T) {
		idx.delete(2)
		scores := idx.search("beach")
		assert.Len(t, scores, 1)
	})
}
