package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/hloc/distance"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyIndex is returned when searching an index without vectors.
	ErrEmptyIndex = errors.New("index is empty")
)

// ErrDimensionMismatch is a named error type for dimension mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// SearchResult represents a search result.
type SearchResult struct {
	// ID is the row of the database descriptor matrix.
	ID uint32

	// Distance is the distance between the query vector and the result vector.
	Distance float32
}

// Index represents an index for vector search.
type Index interface {
	// Add appends vectors; their ids continue from Len().
	Add(ctx context.Context, vectors [][]float32) error

	// Search returns up to k nearest vectors in ascending distance order.
	Search(ctx context.Context, q []float32, k int) ([]SearchResult, error)

	// Len returns the number of indexed vectors.
	Len() int

	// Dimension returns the vector dimensionality, 0 before the first Add.
	Dimension() int

	// Metric returns the distance metric.
	Metric() distance.Metric
}

// CheckDimension validates every vector against dim. A dim of 0 adopts the
// dimension of the first vector; the adopted dimension is returned.
func CheckDimension(dim int, vectors [][]float32) (int, error) {
	for _, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return dim, &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
	}
	return dim, nil
}

// CheckQuery validates a query against an index.
func CheckQuery(idx Index, q []float32, k int) error {
	if k <= 0 {
		return ErrInvalidK
	}
	if idx.Len() == 0 {
		return ErrEmptyIndex
	}
	if len(q) != idx.Dimension() {
		return &ErrDimensionMismatch{Expected: idx.Dimension(), Actual: len(q)}
	}
	return nil
}
