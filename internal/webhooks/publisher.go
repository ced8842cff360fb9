// Package webhooks fans route lifecycle events out to subscriber endpoints.
// Publishing only enqueues; a background worker drains the queue with retries
// and HMAC-signed requests.
package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"gasroute/internal/store"
)

// Event types emitted by the API.
const (
	EventRouteOptimized    = "route.optimized"
	EventRouteStarted      = "route.started"
	EventWaypointCompleted = "waypoint.completed"
	EventRouteCompleted    = "route.completed"
	EventRouteCancelled    = "route.cancelled"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues one delivery per matching subscription. Failures to enqueue
// are dropped; webhooks are best-effort and never block the request path.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.SubscriptionsForEvent(ctx, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   "evt_" + uuid.New().String(),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, s := range subs {
		_, _ = p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body)
	}
}
