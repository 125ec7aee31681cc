// Package backup archives snapshots to a blob store. Pushes are rate limited
// and retried so a flaky NAS or object store does not lose a backup run.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/photodex/blobstore"
)

const (
	// DefaultMaxRetries is the default attempt budget per blob.
	DefaultMaxRetries = 3

	// DefaultConcurrency bounds parallel pushes in PushAll.
	DefaultConcurrency = 4
)

// Options represents the options for configuring the archiver.
type Options struct {
	// Logger receives push diagnostics.
	Logger *slog.Logger

	// Limiter throttles push calls. Nil disables throttling.
	Limiter *rate.Limiter

	// MaxRetries is the attempt budget per blob.
	MaxRetries int

	// Concurrency bounds parallel pushes in PushAll.
	Concurrency int

	// Backoff is the base delay between attempts, doubled per retry.
	Backoff time.Duration
}

// DefaultOptions holds the default archiver configuration.
var DefaultOptions = Options{
	Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	MaxRetries:  DefaultMaxRetries,
	Concurrency: DefaultConcurrency,
	Backoff:     100 * time.Millisecond,
}

// Archiver pushes named blobs to a store.
type Archiver struct {
	store  blobstore.BlobStore
	opts   Options
	logger *slog.Logger
}

// NewArchiver creates an archiver on top of the given store.
func NewArchiver(store blobstore.BlobStore, optFns ...func(o *Options)) *Archiver {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Archiver{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Push uploads one blob, retrying transient failures with exponential
// backoff. Context cancellation stops the attempts.
func (a *Archiver) Push(ctx context.Context, name string, data []byte) error {
	if a.opts.Limiter != nil {
		if err := a.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var lastErr error
	backoff := a.opts.Backoff

	for attempt := 1; attempt <= a.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = a.store.Put(ctx, name, data); lastErr == nil {
			a.logger.Debug("pushed blob", "name", name, "bytes", len(data), "attempt", attempt)
			return nil
		}

		a.logger.Warn("push failed", "name", name, "attempt", attempt, "err", lastErr)

		if attempt < a.opts.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("backup: push %q failed after %d attempts: %w", name, a.opts.MaxRetries, lastErr)
}

// PushAll uploads the given blobs concurrently. The first failure cancels
// the remaining pushes.
func (a *Archiver) PushAll(ctx context.Context, blobs map[string][]byte) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)

	for name, data := range blobs {
		g.Go(func() error {
			return a.Push(ctx, name, data)
		})
	}

	return g.Wait()
}

// Fetch downloads one archived blob.
func (a *Archiver) Fetch(ctx context.Context, name string) ([]byte, error) {
	return blobstore.ReadAll(ctx, a.store, name)
}
