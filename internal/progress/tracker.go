// Package progress applies driver field events to routes: waypoint delivery
// statuses and a route lifecycle state machine. The transport delivering the
// events gives no ordering guarantee, so application is idempotent and
// last-write-wins by event timestamp.
package progress

import (
	"errors"
	"fmt"
	"sync"

	"gasroute/internal/model"
)

var (
	// ErrTerminalRoute rejects mutations of completed or cancelled routes.
	ErrTerminalRoute = errors.New("route is in a terminal status")
	// ErrUnknownWaypoint reports a status event for an order not on the route.
	ErrUnknownWaypoint = errors.New("no waypoint for order")
	// ErrBadEvent reports a malformed or unrecognized event.
	ErrBadEvent = errors.New("invalid route event")
)

// Waypoint delivery statuses carried in status-event payloads.
const (
	StatusArrived   = "arrived"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Tracker serializes event application per route. The route data itself lives
// in the store; Tracker only owns the locks and the transition rules.
type Tracker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Tracker {
	return &Tracker{locks: map[string]*sync.Mutex{}}
}

// Lock takes the per-route lock and returns its release. Concurrent events
// for different routes proceed in parallel; events for the same route are
// applied one at a time.
func (t *Tracker) Lock(routeID string) func() {
	t.mu.Lock()
	l, ok := t.locks[routeID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[routeID] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Apply folds one event into the route, mutating it in place. The boolean
// reports whether the route changed and needs persisting. Duplicate and stale
// events return Applied=false without error; so do events arriving after the
// route reached a terminal status.
func (t *Tracker) Apply(route *model.Route, ev model.RouteEvent) (model.EventResponse, bool, error) {
	resp := model.EventResponse{RouteStatus: route.Status}
	if ev.Timestamp.IsZero() {
		return resp, false, fmt.Errorf("%w: missing timestamp", ErrBadEvent)
	}
	if model.TerminalStatus(route.Status) {
		return resp, false, nil
	}

	switch ev.Type {
	case model.EventLocation:
		changed := t.start(route)
		resp.RouteStatus = route.Status
		resp.Applied = true
		return resp, changed, nil
	case model.EventStatus:
		return t.applyStatus(route, ev)
	default:
		return resp, false, fmt.Errorf("%w: unknown type %q", ErrBadEvent, ev.Type)
	}
}

func (t *Tracker) applyStatus(route *model.Route, ev model.RouteEvent) (model.EventResponse, bool, error) {
	resp := model.EventResponse{RouteStatus: route.Status}
	status, _ := ev.Payload["status"].(string)
	switch status {
	case StatusArrived, StatusCompleted, StatusFailed:
	default:
		return resp, false, fmt.Errorf("%w: unknown delivery status %q", ErrBadEvent, status)
	}

	wp := findWaypoint(route, ev.OrderID)
	if wp == nil {
		return resp, false, fmt.Errorf("%w: %s", ErrUnknownWaypoint, ev.OrderID)
	}

	// Last write wins; an equal timestamp is the same event redelivered.
	if !ev.Timestamp.After(wp.LastEventAt) {
		if wp.Completed {
			resp.WaypointStatus = StatusCompleted
		}
		return resp, false, nil
	}

	t.start(route)
	wasCompleted := wp.Completed
	wp.LastEventAt = ev.Timestamp
	switch status {
	case StatusCompleted:
		if !wasCompleted {
			wp.Completed = true
			ts := ev.Timestamp
			wp.CompletedAt = &ts
			resp.Applied = true
		}
	case StatusFailed, StatusArrived:
		// Completion is monotonic; a later failure or arrival report never
		// reverts a recorded delivery.
		resp.Applied = !wasCompleted
	}

	if allCompleted(route) {
		route.Status = model.RouteCompleted
	}
	resp.RouteStatus = route.Status
	if wasCompleted {
		resp.WaypointStatus = StatusCompleted
	} else {
		resp.WaypointStatus = status
	}
	return resp, true, nil
}

// Cancel moves a route to cancelled from any non-terminal status.
func (t *Tracker) Cancel(route *model.Route) error {
	if model.TerminalStatus(route.Status) {
		return fmt.Errorf("%w: %s", ErrTerminalRoute, route.Status)
	}
	route.Status = model.RouteCancelled
	return nil
}

// start bumps a planned route to in_progress on the first field event.
func (t *Tracker) start(route *model.Route) bool {
	if route.Status == model.RoutePending || route.Status == model.RouteOptimized {
		route.Status = model.RouteInProgress
		return true
	}
	return false
}

func findWaypoint(route *model.Route, orderID string) *model.Waypoint {
	for i := range route.Waypoints {
		if route.Waypoints[i].OrderID == orderID {
			return &route.Waypoints[i]
		}
	}
	return nil
}

func allCompleted(route *model.Route) bool {
	if len(route.Waypoints) == 0 {
		return false
	}
	for _, wp := range route.Waypoints {
		if !wp.Completed {
			return false
		}
	}
	return true
}
