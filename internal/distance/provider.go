// Package distance adapts external travel-distance/duration sources behind a
// matrix-oriented provider port. Optimization runs batch lookups into one
// matrix call and cache pairs for the duration of the run.
package distance

import (
	"context"
	"errors"

	"gasroute/internal/model"
)

// ErrProviderUnavailable signals that the external distance source failed or
// timed out after retries. Callers must surface it; there is no silent
// fallback to straight-line estimation.
var ErrProviderUnavailable = errors.New("distance provider unavailable")

// Matrix holds pairwise travel metrics for a point set. Distances are in km,
// durations in minutes; row = origin index, column = destination index.
type Matrix struct {
	Distances [][]float64
	Durations [][]float64
	// Degraded marks results produced by straight-line estimation instead of
	// road-network data.
	Degraded bool
}

// Provider is the port to the maps collaborator.
type Provider interface {
	// Matrix returns NxN travel metrics for the given points.
	Matrix(ctx context.Context, points []model.Coordinate) (*Matrix, error)
}

func newMatrix(n int, degraded bool) *Matrix {
	m := &Matrix{
		Distances: make([][]float64, n),
		Durations: make([][]float64, n),
		Degraded:  degraded,
	}
	for i := 0; i < n; i++ {
		m.Distances[i] = make([]float64, n)
		m.Durations[i] = make([]float64, n)
	}
	return m
}
