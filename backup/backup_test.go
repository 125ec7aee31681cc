package backup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/photodex/blobstore"
)

// flakyStore fails the first failures puts, then delegates.
type flakyStore struct {
	blobstore.BlobStore

	mu       sync.Mutex
	failures int
	puts     int
}

func (s *flakyStore) Put(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	s.puts++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return errors.New("transient failure")
	}
	return s.BlobStore.Put(ctx, name, data)
}

func fastOptions(o *Options) {
	o.Backoff = time.Millisecond
}

func TestPush(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		a := NewArchiver(store, fastOptions)

		require.NoError(t, a.Push(context.Background(), "snapshots/1", []byte("data")))

		got, err := a.Fetch(context.Background(), "snapshots/1")
		require.NoError(t, err)
		assert.Equal(t, "data", string(got))
	})

	t.Run("retries transient failures", func(t *testing.T) {
		store := &flakyStore{BlobStore: blobstore.NewMemoryStore(), failures: 2}
		a := NewArchiver(store, fastOptions)

		require.NoError(t, a.Push(context.Background(), "snapshots/1", []byte("data")))
		assert.Equal(t, 3, store.puts)
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		store := &flakyStore{BlobStore: blobstore.NewMemoryStore(), failures: 10}
		a := NewArchiver(store, fastOptions)

		err := a.Push(context.Background(), "snapshots/1", []byte("data"))
		require.Error(t, err)
		assert.Equal(t, DefaultMaxRetries, store.puts)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		store := &flakyStore{BlobStore: blobstore.NewMemoryStore(), failures: 10}
		a := NewArchiver(store, func(o *Options) {
			o.Backoff = time.Minute
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- a.Push(ctx, "snapshots/1", []byte("data"))
		}()

		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("push did not react to cancellation")
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		a := NewArchiver(store, fastOptions, func(o *Options) {
			o.Limiter = rate.NewLimiter(rate.Every(10*time.Millisecond), 1)
		})

		start := time.Now()
		require.NoError(t, a.Push(context.Background(), "a", nil))
		require.NoError(t, a.Push(context.Background(), "b", nil))
		require.NoError(t, a.Push(context.Background(), "c", nil))

		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})
}

func TestPushAll(t *testing.T) {
	t.Run("uploads every blob", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		a := NewArchiver(store, fastOptions)

		blobs := map[string][]byte{
			"snapshots/1":   []byte("a"),
			"snapshots/2":   []byte("b"),
			"boundaries/cn": []byte("c"),
		}
		require.NoError(t, a.PushAll(context.Background(), blobs))

		names, err := store.List(context.Background(), "")
		require.NoError(t, err)
		assert.Len(t, names, 3)
	})

	t.Run("first failure surfaces", func(t *testing.T) {
		store := &flakyStore{BlobStore: blobstore.NewMemoryStore(), failures: 100}
		a := NewArchiver(store, fastOptions)

		err := a.PushAll(context.Background(), map[string][]byte{"a": nil, "b": nil})
		assert.Error(t, err)
	})
}
