package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"gasroute/internal/metrics"
	"gasroute/internal/store"
)

// Worker drains the webhook delivery queue on a ticker. Deliveries that keep
// failing back off exponentially and are dead-lettered after MaxAttempts.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Stop        chan struct{}
	MaxAttempts int
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Stop:        make(chan struct{}),
		MaxAttempts: maxAttempts,
	}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil || len(items) == 0 {
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.FailWebhook(ctx, it.ID, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	if it.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
	}

	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := float64(time.Since(start).Milliseconds())

	success := false
	lastErr := ""
	if err != nil {
		lastErr = err.Error()
	} else {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			success = true
		} else {
			lastErr = resp.Status
		}
	}

	switch {
	case success:
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "delivered").Inc()
		metrics.WebhookLatency.WithLabelValues(it.EventType, "delivered").Observe(latency)
		_ = w.Store.MarkWebhookDelivered(ctx, it.ID)
	case it.Attempts >= w.MaxAttempts:
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "dead").Inc()
		_ = w.Store.FailWebhook(ctx, it.ID, lastErr)
	default:
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "retry").Inc()
		_ = w.Store.RescheduleWebhook(ctx, it.ID, time.Now().Add(nextBackoff(it.Attempts)), lastErr)
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	d := time.Second * time.Duration(1<<attempts)
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
