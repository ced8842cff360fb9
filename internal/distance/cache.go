package distance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gasroute/internal/model"
)

// retryAttempts is the total number of tries against the inner provider: one
// initial call plus two retries, after which the failure is surfaced.
const retryAttempts = 3

type pairKey struct {
	aLat, aLng, bLat, bLng float64
}

// RunCache memoizes pairwise results for the duration of a single
// optimization run. It is not shared across runs: travel metrics are
// time-dependent, so a fresh cache is created per request.
//
// A full-set matrix call populates the pair cache; later calls over subsets
// of the same points are assembled without touching the inner provider.
type RunCache struct {
	inner Provider

	mu       sync.Mutex
	pairs    map[pairKey]result
	degraded bool
}

type result struct {
	km, min float64
}

func NewRunCache(inner Provider) *RunCache {
	return &RunCache{inner: inner, pairs: map[pairKey]result{}}
}

// Degraded reports whether any cached result came from a degraded provider.
func (c *RunCache) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *RunCache) Matrix(ctx context.Context, points []model.Coordinate) (*Matrix, error) {
	c.mu.Lock()
	if m, ok := c.assembleLocked(points); ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	inner, err := c.fetch(ctx, points)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if inner.Degraded {
		c.degraded = true
	}
	for i := range points {
		for j := range points {
			if i == j {
				continue
			}
			c.pairs[keyFor(points[i], points[j])] = result{km: inner.Distances[i][j], min: inner.Durations[i][j]}
		}
	}
	return inner, nil
}

func (c *RunCache) fetch(ctx context.Context, points []model.Coordinate) (*Matrix, error) {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := c.inner.Matrix(ctx, points)
		if err == nil {
			return m, nil
		}
		lastErr = err
		if attempt == retryAttempts {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	if errors.Is(lastErr, ErrProviderUnavailable) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func (c *RunCache) assembleLocked(points []model.Coordinate) (*Matrix, bool) {
	m := newMatrix(len(points), c.degraded)
	for i := range points {
		for j := range points {
			if i == j {
				continue
			}
			r, ok := c.pairs[keyFor(points[i], points[j])]
			if !ok {
				return nil, false
			}
			m.Distances[i][j] = r.km
			m.Durations[i][j] = r.min
		}
	}
	return m, true
}

// keyFor rounds to 5 decimal places (~1m) so jittered coordinates of the same
// stop share a cache entry.
func keyFor(a, b model.Coordinate) pairKey {
	return pairKey{round5(a.Lat), round5(a.Lng), round5(b.Lat), round5(b.Lng)}
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
