package distance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gasroute/internal/model"
)

// HTTPProvider calls an external maps matrix API (ORS-style: locations as
// [lng,lat] pairs, metrics in meters/seconds). Requests are rate limited so a
// burst of optimization runs cannot exhaust the provider quota.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, perSec float64, burst int) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if perSec <= 0 {
		perSec = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

type matrixRequest struct {
	Locations [][]float64 `json:"locations"`
	Metrics   []string    `json:"metrics"`
}

type matrixResponse struct {
	Distances [][]float64 `json:"distances"`
	Durations [][]float64 `json:"durations"`
}

func (p *HTTPProvider) Matrix(ctx context.Context, points []model.Coordinate) (*Matrix, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	locations := make([][]float64, len(points))
	for i, pt := range points {
		locations[i] = []float64{pt.Lng, pt.Lat}
	}
	payload, err := json.Marshal(matrixRequest{Locations: locations, Metrics: []string{"distance", "duration"}})
	if err != nil {
		return nil, fmt.Errorf("marshal matrix request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/matrix", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create matrix request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	n := len(points)
	if len(mr.Distances) != n || len(mr.Durations) != n {
		return nil, fmt.Errorf("%w: matrix shape mismatch: got %dx? want %dx%d", ErrProviderUnavailable, len(mr.Distances), n, n)
	}

	m := newMatrix(n, false)
	for i := 0; i < n; i++ {
		if len(mr.Distances[i]) != n || len(mr.Durations[i]) != n {
			return nil, fmt.Errorf("%w: matrix row %d shape mismatch", ErrProviderUnavailable, i)
		}
		for j := 0; j < n; j++ {
			m.Distances[i][j] = mr.Distances[i][j] / 1000.0
			m.Durations[i][j] = mr.Durations[i][j] / 60.0
		}
	}
	return m, nil
}
