package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("open missing blob", func(t *testing.T) {
		_, err := store.Open(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then open", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "snapshots/a", []byte("hello")))

		blob, err := store.Open(ctx, "snapshots/a")
		require.NoError(t, err)
		defer blob.Close()

		assert.Equal(t, int64(5), blob.Size())

		buf := make([]byte, 5)
		n, _ := blob.ReadAt(buf, 0)
		assert.Equal(t, 5, n)
		assert.Equal(t, "hello", string(buf))
	})

	t.Run("put replaces", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "snapshots/a", []byte("v2")))

		data, err := ReadAll(ctx, store, "snapshots/a")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(data))
	})

	t.Run("list by prefix", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "snapshots/b", []byte("x")))
		require.NoError(t, store.Put(ctx, "boundaries/cn", []byte("y")))

		names, err := store.List(ctx, "snapshots/")
		require.NoError(t, err)
		assert.Equal(t, []string{"snapshots/a", "snapshots/b"}, names)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "snapshots/b"))
		_, err := store.Open(ctx, "snapshots/b")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting a missing blob is fine.
		assert.NoError(t, store.Delete(ctx, "snapshots/b"))
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("original")
	require.NoError(t, store.Put(ctx, "blob", data))
	data[0] = 'X'

	got, err := ReadAll(ctx, store, "blob")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}
