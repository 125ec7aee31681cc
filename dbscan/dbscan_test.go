package dbscan

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/photodex/hnsw"
	"github.com/hupe1980/photodex/metric"
)

// jitter returns base with every component nudged by at most amount.
func jitter(rng *rand.Rand, base []float32, amount float32) []float32 {
	v := make([]float32, len(base))
	for i := range base {
		v[i] = base[i] + (rng.Float32()*2-1)*amount
	}
	return v
}

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c, err := New()
		require.NoError(t, err)
		assert.Equal(t, DefaultEps, c.opts.Eps)
		assert.Equal(t, DefaultMinSamples, c.opts.MinSamples)
	})

	t.Run("invalid eps", func(t *testing.T) {
		_, err := New(func(o *Options) {
			o.Eps = 0
		})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("invalid minSamples", func(t *testing.T) {
		_, err := New(func(o *Options) {
			o.MinSamples = 0
		})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestFitPredict(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		c, err := New()
		require.NoError(t, err)

		result, err := c.FitPredict(nil)
		require.NoError(t, err)
		assert.Zero(t, result.NumClusters)
		assert.Zero(t, result.NumNoise)
		assert.Empty(t, result.Labels)
	})

	t.Run("inconsistent dimensions", func(t *testing.T) {
		c, err := New()
		require.NoError(t, err)

		_, err = c.FitPredict([][]float32{{1, 0}, {1, 0, 0}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("single point with minSamples 1 forms its own cluster", func(t *testing.T) {
		c, err := New(func(o *Options) {
			o.MinSamples = 1
		})
		require.NoError(t, err)

		result, err := c.FitPredict([][]float32{{1, 0, 0}})
		require.NoError(t, err)
		assert.Equal(t, 1, result.NumClusters)
		assert.Zero(t, result.NumNoise)
		assert.Equal(t, []uint32{1}, result.Labels)
	})

	t.Run("dense group plus scattered noise", func(t *testing.T) {
		// 6 embeddings near one centroid, 4 nearly orthogonal strays.
		rng := rand.New(rand.NewSource(1))
		centroid := unit(16, 0)

		points := make([][]float32, 0, 10)
		for i := 0; i < 6; i++ {
			points = append(points, jitter(rng, centroid, 0.02))
		}
		for i := 1; i <= 4; i++ {
			points = append(points, unit(16, i))
		}

		c, err := New(func(o *Options) {
			o.Eps = 0.5
			o.MinSamples = 3
		})
		require.NoError(t, err)

		result, err := c.FitPredict(points)
		require.NoError(t, err)

		assert.Equal(t, 1, result.NumClusters)
		assert.Equal(t, 4, result.NumNoise)
		for i := 0; i < 6; i++ {
			assert.Equal(t, uint32(1), result.Labels[i])
		}
		for i := 6; i < 10; i++ {
			assert.Equal(t, Noise, result.Labels[i])
		}
	})

	t.Run("two separated groups", func(t *testing.T) {
		rng := rand.New(rand.NewSource(2))

		var points [][]float32
		for i := 0; i < 5; i++ {
			points = append(points, jitter(rng, unit(8, 0), 0.02))
		}
		for i := 0; i < 5; i++ {
			points = append(points, jitter(rng, unit(8, 4), 0.02))
		}

		c, err := New(func(o *Options) {
			o.Eps = 0.3
			o.MinSamples = 3
		})
		require.NoError(t, err)

		result, err := c.FitPredict(points)
		require.NoError(t, err)

		assert.Equal(t, 2, result.NumClusters)
		assert.Zero(t, result.NumNoise)

		// Discovery order fixes the ids: the first group is cluster 1.
		assert.Equal(t, uint32(1), result.Labels[0])
		assert.Equal(t, uint32(2), result.Labels[9])
	})

	t.Run("deterministic across runs", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		points := make([][]float32, 60)
		for i := range points {
			points[i] = jitter(rng, unit(8, i%4*2), 0.1)
		}

		c1, err := New()
		require.NoError(t, err)
		r1, err := c1.FitPredict(points)
		require.NoError(t, err)

		c2, err := New()
		require.NoError(t, err)
		r2, err := c2.FitPredict(points)
		require.NoError(t, err)

		assert.Equal(t, r1.Labels, r2.Labels)
	})
}

func TestFitPredictEuclidean(t *testing.T) {
	c, err := New(func(o *Options) {
		o.Eps = 1
		o.MinSamples = 2
		o.Metric = metric.MetricEuclidean
	})
	require.NoError(t, err)

	result, err := c.FitPredict([][]float32{
		{0, 0},
		{0.5, 0},
		{10, 10},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.NumClusters)
	assert.Equal(t, 1, result.NumNoise)
	assert.Equal(t, []uint32{1, 1, Noise}, result.Labels)
}

func TestFitPredictWithNeighborIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(4))

	var points [][]float32
	for i := 0; i < 8; i++ {
		points = append(points, jitter(rng, unit(8, 0), 0.02))
	}
	points = append(points, unit(8, 4))

	idx, err := hnsw.New(8)
	require.NoError(t, err)
	for i, p := range points {
		require.NoError(t, idx.Add(uint32(i), p))
	}

	brute, err := New()
	require.NoError(t, err)
	bruteResult, err := brute.FitPredict(points)
	require.NoError(t, err)

	accel, err := New(func(o *Options) {
		o.NeighborIndex = idx
	})
	require.NoError(t, err)
	accelResult, err := accel.FitPredict(points)
	require.NoError(t, err)

	assert.Equal(t, bruteResult.Labels, accelResult.Labels)
	assert.Equal(t, bruteResult.NumClusters, accelResult.NumClusters)
}

func TestPredictIncremental(t *testing.T) {
	fit := func(t *testing.T) (*Clusterer, []uint32) {
		t.Helper()

		rng := rand.New(rand.NewSource(5))
		var points [][]float32
		for i := 0; i < 5; i++ {
			points = append(points, jitter(rng, unit(8, 0), 0.02))
		}
		points = append(points, unit(8, 4)) // noise

		c, err := New()
		require.NoError(t, err)
		result, err := c.FitPredict(points)
		require.NoError(t, err)
		require.Equal(t, 1, result.NumClusters)

		return c, result.Labels
	}

	t.Run("joins the nearby cluster", func(t *testing.T) {
		c, labels := fit(t)

		out, err := c.PredictIncremental([][]float32{unit(8, 0)}, labels, 0.3)
		require.NoError(t, err)
		assert.Equal(t, []uint32{1}, out)
	})

	t.Run("distant point opens a fresh cluster", func(t *testing.T) {
		c, labels := fit(t)

		out, err := c.PredictIncremental([][]float32{unit(8, 6)}, labels, 0.3)
		require.NoError(t, err)
		assert.Equal(t, []uint32{2}, out)
	})

	t.Run("fresh ids stay distinct within one batch", func(t *testing.T) {
		c, labels := fit(t)

		out, err := c.PredictIncremental([][]float32{unit(8, 6), unit(8, 7)}, labels, 0.3)
		require.NoError(t, err)
		assert.Equal(t, []uint32{2, 3}, out)
	})

	t.Run("noise neighbors do not donate a label", func(t *testing.T) {
		c, labels := fit(t)

		// Right on top of the fitted noise point.
		out, err := c.PredictIncremental([][]float32{unit(8, 4)}, labels, 0.3)
		require.NoError(t, err)
		assert.Equal(t, []uint32{2}, out)
	})

	t.Run("empty batch", func(t *testing.T) {
		c, labels := fit(t)

		out, err := c.PredictIncremental(nil, labels, 0.3)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("before fitting", func(t *testing.T) {
		c, err := New()
		require.NoError(t, err)

		_, err = c.PredictIncremental([][]float32{unit(8, 0)}, nil, 0.3)
		assert.ErrorIs(t, err, ErrNotFitted)
	})

	t.Run("label length mismatch", func(t *testing.T) {
		c, labels := fit(t)

		_, err := c.PredictIncremental([][]float32{unit(8, 0)}, labels[:2], 0.3)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("invalid epsJoin", func(t *testing.T) {
		c, labels := fit(t)

		_, err := c.PredictIncremental([][]float32{unit(8, 0)}, labels, 0)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestCosineJitterStaysTight(t *testing.T) {
	// Sanity check on the jitter helper: nudged copies of one centroid stay
	// well inside the clustering radius used above.
	rng := rand.New(rand.NewSource(6))
	centroid := unit(16, 0)

	cosine, err := metric.Provider(metric.MetricCosine)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		d := cosine(centroid, jitter(rng, centroid, 0.02))
		assert.Less(t, float64(d), 0.1)
		assert.False(t, math.IsNaN(float64(d)))
	}
}
