package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gasroute/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set. It mirrors
// the Postgres semantics closely enough for tests and local runs, including
// webhook scheduling.
type Memory struct {
	mu         sync.Mutex
	routes     map[string]RouteDetail
	routeOrder []string // insertion order, newest last; drives cursor paging
	subs       map[string]model.Subscription
	subOrder   []string
	deliveries map[string]*memDelivery
	now        func() time.Time
}

type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	Done          bool
	Dead          bool
}

func NewMemory() *Memory {
	return &Memory{
		routes:     map[string]RouteDetail{},
		subs:       map[string]model.Subscription{},
		deliveries: map[string]*memDelivery{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) SaveRoute(_ context.Context, detail RouteDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[detail.Route.ID]; !ok {
		m.routeOrder = append(m.routeOrder, detail.Route.ID)
	}
	m.routes[detail.Route.ID] = detail
	return nil
}

func (m *Memory) GetRoute(_ context.Context, routeID string) (RouteDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.routes[routeID]
	if !ok {
		return RouteDetail{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) ListRoutes(_ context.Context, status, cursor string, limit int) ([]model.Route, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	start := 0
	if cursor != "" {
		for i, id := range m.routeOrder {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Route{}
	next := ""
	for _, id := range m.routeOrder[start:] {
		r := m.routes[id].Route
		if status != "" && r.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, r)
	}
	return out, next, nil
}

func (m *Memory) CreateSubscription(_ context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[sub.ID] = sub
	m.subOrder = append(m.subOrder, sub.ID)
	return sub, nil
}

func (m *Memory) ListSubscriptions(_ context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	start := 0
	if cursor != "" {
		for i, id := range m.subOrder {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Subscription{}
	next := ""
	for _, id := range m.subOrder[start:] {
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		sub := m.subs[id]
		sub.Secret = "" // never list secrets back out
		out = append(out, sub)
	}
	return out, next, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	for i, sid := range m.subOrder {
		if sid == id {
			m.subOrder = append(m.subOrder[:i], m.subOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) SubscriptionsForEvent(_ context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, id := range m.subOrder {
		sub := m.subs[id]
		for _, ev := range sub.Events {
			if ev == eventType || ev == "*" {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(_ context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        payload,
		},
		NextAttemptAt: m.now(),
	}
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(_ context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := m.now()
	var due []*memDelivery
	for _, d := range m.deliveries {
		if !d.Done && !d.Dead && !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]WebhookDelivery, len(due))
	for i, d := range due {
		d.Attempts++
		out[i] = d.WebhookDelivery
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Done = true
	return nil
}

func (m *Memory) RescheduleWebhook(_ context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.NextAttemptAt = nextAttemptAt
	d.LastError = lastError
	return nil
}

func (m *Memory) FailWebhook(_ context.Context, id string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Dead = true
	d.LastError = lastError
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
