package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasroute/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testRoute() *model.Route {
	return &model.Route{
		ID:     "r1",
		Status: model.RouteOptimized,
		Waypoints: []model.Waypoint{
			{OrderID: "a", Seq: 0},
			{OrderID: "b", Seq: 1},
		},
	}
}

func statusEvent(orderID, status string, at time.Time) model.RouteEvent {
	return model.RouteEvent{
		Type:      model.EventStatus,
		OrderID:   orderID,
		Timestamp: at,
		Payload:   map[string]any{"status": status},
	}
}

func TestFirstEventStartsRoute(t *testing.T) {
	tr := New()
	route := testRoute()

	resp, changed, err := tr.Apply(route, statusEvent("a", StatusArrived, t0))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, resp.Applied)
	assert.Equal(t, model.RouteInProgress, resp.RouteStatus)
	assert.Equal(t, model.RouteInProgress, route.Status)
}

func TestLocationEventStartsRouteWithoutTouchingWaypoints(t *testing.T) {
	tr := New()
	route := testRoute()

	resp, changed, err := tr.Apply(route, model.RouteEvent{Type: model.EventLocation, DriverID: "d1", Timestamp: t0})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, resp.Applied)
	assert.Equal(t, model.RouteInProgress, route.Status)
	assert.False(t, route.Waypoints[0].Completed)
}

func TestCompletionIsIdempotent(t *testing.T) {
	tr := New()
	route := testRoute()

	resp, _, err := tr.Apply(route, statusEvent("a", StatusCompleted, t0))
	require.NoError(t, err)
	assert.True(t, resp.Applied)
	require.True(t, route.Waypoints[0].Completed)
	firstCompletedAt := *route.Waypoints[0].CompletedAt

	// Same payload, later timestamp: accepted but a no-op on completion.
	resp, _, err = tr.Apply(route, statusEvent("a", StatusCompleted, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, resp.Applied)
	assert.Equal(t, firstCompletedAt, *route.Waypoints[0].CompletedAt)
}

func TestStaleEventIgnored(t *testing.T) {
	tr := New()
	route := testRoute()

	_, _, err := tr.Apply(route, statusEvent("a", StatusCompleted, t0))
	require.NoError(t, err)

	// Out-of-order delivery: an older "arrived" must not undo completion.
	resp, changed, err := tr.Apply(route, statusEvent("a", StatusArrived, t0.Add(-time.Minute)))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, resp.Applied)
	assert.True(t, route.Waypoints[0].Completed)
	assert.Equal(t, StatusCompleted, resp.WaypointStatus)
}

func TestDuplicateTimestampIsNoOp(t *testing.T) {
	tr := New()
	route := testRoute()

	_, _, err := tr.Apply(route, statusEvent("a", StatusCompleted, t0))
	require.NoError(t, err)
	_, changed, err := tr.Apply(route, statusEvent("a", StatusCompleted, t0))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCompletionNeverReverted(t *testing.T) {
	tr := New()
	route := testRoute()

	_, _, err := tr.Apply(route, statusEvent("a", StatusCompleted, t0))
	require.NoError(t, err)
	completedAt := *route.Waypoints[0].CompletedAt

	// A newer failure report cannot undo the recorded delivery.
	resp, changed, err := tr.Apply(route, statusEvent("a", StatusFailed, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, changed) // LastEventAt advanced
	assert.False(t, resp.Applied)
	assert.Equal(t, StatusCompleted, resp.WaypointStatus)
	assert.True(t, route.Waypoints[0].Completed)
	require.NotNil(t, route.Waypoints[0].CompletedAt)
	assert.Equal(t, completedAt, *route.Waypoints[0].CompletedAt)
	assert.Equal(t, t0.Add(time.Minute), route.Waypoints[0].LastEventAt)
}

func TestFailureOnPendingWaypointIsRecorded(t *testing.T) {
	tr := New()
	route := testRoute()

	resp, changed, err := tr.Apply(route, statusEvent("a", StatusFailed, t0))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, resp.Applied)
	assert.Equal(t, StatusFailed, resp.WaypointStatus)
	assert.False(t, route.Waypoints[0].Completed)
}

func TestRouteAutoCompletesWhenAllWaypointsDone(t *testing.T) {
	tr := New()
	route := testRoute()

	_, _, err := tr.Apply(route, statusEvent("a", StatusCompleted, t0))
	require.NoError(t, err)
	assert.Equal(t, model.RouteInProgress, route.Status)

	resp, _, err := tr.Apply(route, statusEvent("b", StatusCompleted, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, model.RouteCompleted, resp.RouteStatus)
	assert.Equal(t, model.RouteCompleted, route.Status)
}

func TestEventsAfterTerminalAreIgnored(t *testing.T) {
	tr := New()
	route := testRoute()
	route.Status = model.RouteCancelled

	resp, changed, err := tr.Apply(route, statusEvent("a", StatusCompleted, t0))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, resp.Applied)
	assert.Equal(t, model.RouteCancelled, route.Status)
}

func TestCancelTransitions(t *testing.T) {
	tr := New()

	route := testRoute()
	require.NoError(t, tr.Cancel(route))
	assert.Equal(t, model.RouteCancelled, route.Status)
	assert.ErrorIs(t, tr.Cancel(route), ErrTerminalRoute)

	done := testRoute()
	done.Status = model.RouteCompleted
	assert.ErrorIs(t, tr.Cancel(done), ErrTerminalRoute)
}

func TestUnknownWaypointAndBadEvents(t *testing.T) {
	tr := New()
	route := testRoute()

	_, _, err := tr.Apply(route, statusEvent("ghost", StatusCompleted, t0))
	assert.ErrorIs(t, err, ErrUnknownWaypoint)

	_, _, err = tr.Apply(route, model.RouteEvent{Type: "telemetry", Timestamp: t0})
	assert.ErrorIs(t, err, ErrBadEvent)

	_, _, err = tr.Apply(route, statusEvent("a", "teleported", t0))
	assert.ErrorIs(t, err, ErrBadEvent)

	_, _, err = tr.Apply(route, model.RouteEvent{Type: model.EventStatus, OrderID: "a"})
	assert.ErrorIs(t, err, ErrBadEvent)
}

func TestPerRouteLocksAreIndependent(t *testing.T) {
	tr := New()
	unlockA := tr.Lock("route-a")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		unlock := tr.Lock("route-b") // must not block on route-a's lock
		unlock()
	}()
	wg.Wait()
	unlockA()

	// Re-locking the released route works.
	unlock := tr.Lock("route-a")
	unlock()
}
