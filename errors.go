package photodex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/photodex/cluster"
	"github.com/hupe1980/photodex/dbscan"
	"github.com/hupe1980/photodex/geo"
	"github.com/hupe1980/photodex/hnsw"
	"github.com/hupe1980/photodex/search"
)

var (
	// ErrNotFound is returned when a photo, person or location does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePhoto is returned when a photo id is ingested twice.
	ErrDuplicatePhoto = errors.New("duplicate photo id")

	// ErrInvalidParameter is returned for invalid arguments or configuration.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrTaskInProgress is returned when a clustering task blocks the operation.
	ErrTaskInProgress = errors.New("clustering task in progress")
)

// ErrDimensionMismatch indicates an embedding/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, geo.ErrNotFound) ||
		errors.Is(err, search.ErrNotFound) ||
		errors.Is(err, cluster.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Dimension normalization.
	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	// Argument normalization.
	if errors.Is(err, hnsw.ErrInvalidParameter) ||
		errors.Is(err, hnsw.ErrInvalidK) ||
		errors.Is(err, dbscan.ErrInvalidParameter) ||
		errors.Is(err, dbscan.ErrDimensionMismatch) ||
		errors.Is(err, cluster.ErrInvalidParameter) ||
		errors.Is(err, geo.ErrInvalidCoordinate) ||
		errors.Is(err, search.ErrInvalidQuery) {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	if errors.Is(err, cluster.ErrTaskInProgress) {
		return fmt.Errorf("%w: %w", ErrTaskInProgress, err)
	}

	return err
}
