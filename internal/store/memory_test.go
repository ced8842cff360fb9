package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasroute/internal/model"
)

func detail(id, status string) RouteDetail {
	return RouteDetail{
		Route:   model.Route{ID: id, Status: status, Waypoints: []model.Waypoint{{OrderID: "o1"}}},
		Vehicle: model.Vehicle{ID: "v1", Capacity: 100},
		Orders:  []model.Order{{ID: "o1"}},
	}
}

func TestMemoryRouteRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveRoute(ctx, detail("r1", model.RouteOptimized)))

	got, err := m.GetRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.Route.ID)
	assert.Equal(t, "v1", got.Vehicle.ID)
	require.Len(t, got.Orders, 1)

	_, err = m.GetRoute(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Saving again overwrites in place, no duplicate listing entry.
	got.Route.Status = model.RouteInProgress
	require.NoError(t, m.SaveRoute(ctx, got))
	routes, _, err := m.ListRoutes(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, model.RouteInProgress, routes[0].Status)
}

func TestMemoryListRoutesFilterAndCursor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveRoute(ctx, detail("r1", model.RouteOptimized)))
	require.NoError(t, m.SaveRoute(ctx, detail("r2", model.RouteCompleted)))
	require.NoError(t, m.SaveRoute(ctx, detail("r3", model.RouteOptimized)))

	optimized, _, err := m.ListRoutes(ctx, model.RouteOptimized, "", 10)
	require.NoError(t, err)
	require.Len(t, optimized, 2)

	page1, next, err := m.ListRoutes(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, next)

	page2, next2, err := m.ListRoutes(ctx, "", next, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Empty(t, next2)
	assert.Equal(t, "r3", page2[0].ID)
}

func TestMemorySubscriptions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL:    "https://example.com/hook",
		Events: []string{"route.completed"},
		Secret: "s3cret",
	})
	require.NoError(t, err)
	wild, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL:    "https://example.com/all",
		Events: []string{"*"},
	})
	require.NoError(t, err)

	matched, err := m.SubscriptionsForEvent(ctx, "route.completed")
	require.NoError(t, err)
	require.Len(t, matched, 2)

	matched, err = m.SubscriptionsForEvent(ctx, "route.optimized")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, wild.ID, matched[0].ID)

	listed, _, err := m.ListSubscriptions(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, s := range listed {
		assert.Empty(t, s.Secret, "secrets must not be listed")
	}

	require.NoError(t, m.DeleteSubscription(ctx, sub.ID))
	assert.ErrorIs(t, m.DeleteSubscription(ctx, sub.ID), ErrNotFound)
}

func TestMemoryWebhookQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	id, err := m.EnqueueWebhook(ctx, "sub1", "route.completed", "https://example.com/hook", "s", []byte(`{}`))
	require.NoError(t, err)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
	assert.Equal(t, 1, due[0].Attempts)

	// Rescheduled into the future: not due until the clock catches up.
	require.NoError(t, m.RescheduleWebhook(ctx, id, now.Add(time.Minute), "upstream 500"))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	now = now.Add(2 * time.Minute)
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Attempts)

	require.NoError(t, m.MarkWebhookDelivered(ctx, id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryWebhookDeadLetter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.EnqueueWebhook(ctx, "sub1", "route.cancelled", "https://example.com/hook", "s", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, m.FailWebhook(ctx, id, "gave up"))

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
