// Package store is the persistence boundary: routes with their planning
// snapshots, webhook subscriptions, and the webhook delivery queue. Two
// implementations exist, an in-memory store for dev/test and Postgres for
// production.
package store

import (
	"context"
	"errors"
	"time"

	"gasroute/internal/model"
)

var ErrNotFound = errors.New("not found")

// RouteDetail is a route plus the planning snapshot needed to re-evaluate it
// later (manual reorders recompute the schedule from these orders). Orders are
// kept in current visit order.
type RouteDetail struct {
	Route       model.Route        `json:"route"`
	Vehicle     model.Vehicle      `json:"vehicle"`
	DepartAt    time.Time          `json:"departAt"`
	Orders      []model.Order      `json:"orders"`
	Constraints *model.Constraints `json:"constraints,omitempty"`
}

// WebhookDelivery is one queued outbound notification attempt.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Attempts       int
}

// Store is the persistence interface used by the API server and the webhook
// worker.
type Store interface {
	// Routes
	SaveRoute(ctx context.Context, detail RouteDetail) error
	GetRoute(ctx context.Context, routeID string) (RouteDetail, error)
	ListRoutes(ctx context.Context, status, cursor string, limit int) ([]model.Route, string, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error
	SubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)

	// Webhook delivery queue
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivered(ctx context.Context, id string) error
	RescheduleWebhook(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
	FailWebhook(ctx context.Context, id string, lastError string) error

	Ping(ctx context.Context) error
	Close() error
}
