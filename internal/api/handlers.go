package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"gasroute/internal/distance"
	"gasroute/internal/engine"
	"gasroute/internal/metrics"
	"gasroute/internal/model"
	"gasroute/internal/progress"
	"gasroute/internal/store"
	"gasroute/internal/webhooks"
)

// OptimizeHandler handles POST /v1/optimize: plan one vehicle's route.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOrders(req.Orders); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}

	veh := model.Vehicle{ID: req.VehicleID, Capacity: req.Capacity, Start: req.StartLocation, DriverID: req.DriverID}
	if veh.ID == "" {
		veh.ID = "vehicle-1"
	}
	departAt := s.defaultDepartAt(req.ScheduledDate, req.DepartAt)

	planner, _ := s.planner()
	ctx, cancel := s.optimizeContext(r)
	defer cancel()

	start := time.Now()
	plan, err := planner.SequenceVehicle(ctx, veh, departAt, req.Orders, req.Constraints)
	metrics.OptimizeDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OptimizeRuns.WithLabelValues("single", outcomeFor(err)).Inc()
		writeError(w, r, err)
		return
	}
	metrics.OptimizeRuns.WithLabelValues("single", "ok").Inc()
	observePlan(plan)

	route := s.buildRoute(plan, veh, req.ScheduledDate, req.Orders)
	detail := store.RouteDetail{
		Route:       route,
		Vehicle:     veh,
		DepartAt:    departAt,
		Orders:      ordersInSequence(plan.Waypoints, req.Orders),
		Constraints: req.Constraints,
	}
	if err := s.Store.SaveRoute(r.Context(), detail); err != nil {
		writeError(w, r, err)
		return
	}
	s.Pub.Emit(r.Context(), webhooks.EventRouteOptimized, map[string]any{
		"routeId":         route.ID,
		"vehicleId":       veh.ID,
		"totalDistanceKm": route.TotalDistanceKm,
		"unassigned":      len(plan.Unassigned),
	})

	writeJSON(w, http.StatusOK, model.OptimizeResponse{
		Route:             route,
		OptimizedSequence: sequenceIDs(plan.Waypoints),
		OrdersUnassigned:  emptyIfNil(plan.Unassigned),
	})
}

// FleetOptimizeHandler handles POST /v1/optimize/fleet.
func (s *Server) FleetOptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.FleetOptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOrders(req.Orders); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	for i := range req.Vehicles {
		if req.Vehicles[i].ID == "" {
			req.Vehicles[i].ID = fmt.Sprintf("vehicle-%d", i+1)
		}
	}
	departAt := s.defaultDepartAt(req.ScheduledDate, req.DepartAt)

	planner, _ := s.planner()
	ctx, cancel := s.optimizeContext(r)
	defer cancel()

	start := time.Now()
	plans, unassigned, err := planner.PlanFleet(ctx, req.Vehicles, req.Orders, req.Goal, departAt, req.Constraints)
	metrics.OptimizeDuration.WithLabelValues("fleet").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OptimizeRuns.WithLabelValues("fleet", outcomeFor(err)).Inc()
		writeError(w, r, err)
		return
	}
	metrics.OptimizeRuns.WithLabelValues("fleet", "ok").Inc()
	for _, ua := range unassigned {
		metrics.UnassignedOrders.WithLabelValues(ua.Reason).Inc()
	}

	routes := make([]model.Route, 0, len(plans))
	for _, fp := range plans {
		observePlan(fp.Plan)
		route := s.buildRoute(fp.Plan, fp.Vehicle, req.ScheduledDate, req.Orders)
		detail := store.RouteDetail{
			Route:       route,
			Vehicle:     fp.Vehicle,
			DepartAt:    departAt,
			Orders:      ordersInSequence(fp.Plan.Waypoints, req.Orders),
			Constraints: req.Constraints,
		}
		if err := s.Store.SaveRoute(r.Context(), detail); err != nil {
			writeError(w, r, err)
			return
		}
		s.Pub.Emit(r.Context(), webhooks.EventRouteOptimized, map[string]any{
			"routeId":         route.ID,
			"vehicleId":       fp.Vehicle.ID,
			"totalDistanceKm": route.TotalDistanceKm,
		})
		routes = append(routes, route)
	}

	writeJSON(w, http.StatusOK, model.FleetOptimizeResponse{
		Routes:           routes,
		OrdersUnassigned: emptyIfNil(unassigned),
	})
}

// RoutesIndexHandler handles GET /v1/routes.
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListRoutes(r.Context(), status, cursor, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RouteByIDHandler handles everything under /v1/routes/{id}: the route
// resource itself, reorder, progress events, the SSE stream, and driver
// locations.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			detail, err := s.Store.GetRoute(r.Context(), id)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, detail.Route)
		case http.MethodPatch:
			s.patchRoute(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case parts[1] == "reorder" && len(parts) == 2:
		s.reorderRoute(w, r, id)
	case parts[1] == "events" && len(parts) == 2:
		s.routeEvent(w, r, id)
	case parts[1] == "events" && len(parts) == 3 && parts[2] == "stream":
		s.streamRouteEvents(w, r, id)
	case parts[1] == "locations" && len(parts) == 2:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": s.Locations.ListByRoute(id)})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// patchRoute currently supports one transition: cancellation.
func (s *Server) patchRoute(w http.ResponseWriter, r *http.Request, id string) {
	var patch model.RoutePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if patch.Status != model.RouteCancelled {
		writeProblem(w, http.StatusBadRequest, "Invalid patch", "only status=cancelled is supported", r.URL.Path)
		return
	}

	unlock := s.Tracker.Lock(id)
	defer unlock()
	detail, err := s.Store.GetRoute(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Tracker.Cancel(&detail.Route); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Store.SaveRoute(r.Context(), detail); err != nil {
		writeError(w, r, err)
		return
	}
	s.Broker.Publish(id, SSEEvent{Type: "route.cancelled", Data: map[string]any{"routeId": id}})
	s.Pub.Emit(r.Context(), webhooks.EventRouteCancelled, map[string]any{"routeId": id})
	writeJSON(w, http.StatusOK, detail.Route)
}

// reorderRoute handles POST /v1/routes/{id}/reorder: a dispatcher moves one
// stop; the schedule is re-checked, not re-optimized. The move is applied only
// when feasible, or when forced, and the verdict is returned either way.
func (s *Server) reorderRoute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}

	unlock := s.Tracker.Lock(id)
	defer unlock()
	detail, err := s.Store.GetRoute(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if model.TerminalStatus(detail.Route.Status) {
		writeProblem(w, http.StatusConflict, "Route is terminal", detail.Route.Status, r.URL.Path)
		return
	}

	planner, _ := s.planner()
	start := time.Now()
	res, err := planner.Reorder(r.Context(), engine.ReorderInput{
		Vehicle:     detail.Vehicle,
		DepartAt:    detail.DepartAt,
		Orders:      detail.Orders,
		Constraints: detail.Constraints,
	}, req.OrderID, req.NewPosition)
	metrics.OptimizeDuration.WithLabelValues("reorder").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OptimizeRuns.WithLabelValues("reorder", outcomeFor(err)).Inc()
		writeError(w, r, err)
		return
	}
	metrics.OptimizeRuns.WithLabelValues("reorder", "ok").Inc()

	applied := res.Feasible || req.Force
	if applied {
		detail.Orders = res.Sequence
		detail.Route.Waypoints = carryProgress(detail.Route.Waypoints, res.Waypoints)
		detail.Route.TotalDistanceKm = res.TotalDistanceKm
		detail.Route.EstimatedDurationMin = res.DurationMinutes
		detail.Route.Degraded = detail.Route.Degraded || res.Degraded
		detail.Route.Polyline = encodePolyline(routePath(detail.Vehicle.Start, detail.Orders))
		detail.Route.Version++
		if err := s.Store.SaveRoute(r.Context(), detail); err != nil {
			writeError(w, r, err)
			return
		}
		s.Broker.Publish(id, SSEEvent{Type: "route.reordered", Data: map[string]any{
			"routeId": id,
			"version": detail.Route.Version,
		}})
	}

	writeJSON(w, http.StatusOK, model.ReorderResponse{
		Waypoints:  res.Waypoints,
		Feasible:   res.Feasible,
		Applied:    applied,
		Violations: emptyIfNil(res.Violations),
	})
}

// routeEvent handles POST /v1/routes/{id}/events: driver progress reports.
func (s *Server) routeEvent(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var ev model.RouteEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}

	unlock := s.Tracker.Lock(id)
	defer unlock()
	detail, err := s.Store.GetRoute(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prevStatus := detail.Route.Status

	resp, changed, err := s.Tracker.Apply(&detail.Route, ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if changed {
		if err := s.Store.SaveRoute(r.Context(), detail); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if ev.Type == model.EventLocation {
		lat, _ := ev.Payload["lat"].(float64)
		lng, _ := ev.Payload["lng"].(float64)
		s.Locations.Upsert(id, ev.DriverID, lat, lng, ev.Timestamp)
	}
	s.Broker.Publish(id, SSEEvent{Type: ev.Type, Data: map[string]any{
		"routeId":        id,
		"orderId":        ev.OrderID,
		"driverId":       ev.DriverID,
		"routeStatus":    resp.RouteStatus,
		"waypointStatus": resp.WaypointStatus,
		"ts":             ev.Timestamp.Format(time.RFC3339),
	}})

	if prevStatus != resp.RouteStatus && resp.RouteStatus == model.RouteInProgress {
		s.Pub.Emit(r.Context(), webhooks.EventRouteStarted, map[string]any{"routeId": id, "driverId": ev.DriverID})
	}
	if resp.Applied && resp.WaypointStatus == progress.StatusCompleted {
		s.Pub.Emit(r.Context(), webhooks.EventWaypointCompleted, map[string]any{"routeId": id, "orderId": ev.OrderID})
	}
	if prevStatus != resp.RouteStatus && resp.RouteStatus == model.RouteCompleted {
		s.Pub.Emit(r.Context(), webhooks.EventRouteCompleted, map[string]any{"routeId": id})
	}

	writeJSON(w, http.StatusOK, resp)
}

// streamRouteEvents handles GET /v1/routes/{id}/events/stream as SSE.
func (s *Server) streamRouteEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events are required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// buildRoute converts a plan into the persisted/wire route shape.
func (s *Server) buildRoute(plan engine.VehiclePlan, veh model.Vehicle, scheduledDate string, orders []model.Order) model.Route {
	seq := ordersInSequence(plan.Waypoints, orders)
	return model.Route{
		ID:                   uuid.New().String(),
		Version:              1,
		ScheduledDate:        scheduledDate,
		VehicleID:            veh.ID,
		DriverID:             veh.DriverID,
		Status:               model.RouteOptimized,
		Waypoints:            plan.Waypoints,
		TotalDistanceKm:      plan.TotalDistanceKm,
		EstimatedDurationMin: plan.DurationMinutes,
		TotalLoad:            plan.TotalLoad,
		Degraded:             plan.Degraded,
		Polyline:             encodePolyline(routePath(veh.Start, seq)),
	}
}

func (s *Server) optimizeContext(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	timeout := time.Duration(s.Cfg.Engine.OptimizeTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func validateOrders(orders []model.Order) error {
	if len(orders) == 0 {
		return fmt.Errorf("at least one order is required")
	}
	seen := map[string]bool{}
	for i, o := range orders {
		if o.ID == "" {
			return fmt.Errorf("order %d has no id", i)
		}
		if seen[o.ID] {
			return fmt.Errorf("duplicate order id %s", o.ID)
		}
		seen[o.ID] = true
		if o.TotalDemand() < 0 {
			return fmt.Errorf("order %s has negative demand", o.ID)
		}
	}
	return nil
}

func sequenceIDs(wps []model.Waypoint) []string {
	out := make([]string, len(wps))
	for i, wp := range wps {
		out[i] = wp.OrderID
	}
	return out
}

// ordersInSequence returns the planned orders in visit order, dropping any the
// planner left unassigned.
func ordersInSequence(wps []model.Waypoint, orders []model.Order) []model.Order {
	byID := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	out := make([]model.Order, 0, len(wps))
	for _, wp := range wps {
		if o, ok := byID[wp.OrderID]; ok {
			out = append(out, o)
		}
	}
	return out
}

func routePath(start model.Coordinate, seq []model.Order) []model.Coordinate {
	path := make([]model.Coordinate, 0, len(seq)+1)
	path = append(path, start)
	for _, o := range seq {
		path = append(path, o.Location)
	}
	return path
}

// carryProgress keeps delivery state from the old waypoints when a reorder
// rebuilds the schedule.
func carryProgress(old, fresh []model.Waypoint) []model.Waypoint {
	byID := make(map[string]model.Waypoint, len(old))
	for _, wp := range old {
		byID[wp.OrderID] = wp
	}
	for i := range fresh {
		if prev, ok := byID[fresh[i].OrderID]; ok {
			fresh[i].Completed = prev.Completed
			fresh[i].CompletedAt = prev.CompletedAt
			fresh[i].LastEventAt = prev.LastEventAt
		}
	}
	return fresh
}

func observePlan(plan engine.VehiclePlan) {
	for _, ua := range plan.Unassigned {
		metrics.UnassignedOrders.WithLabelValues(ua.Reason).Inc()
	}
	if plan.Degraded {
		metrics.DegradedRuns.Inc()
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidConstraints):
		return "invalid"
	case errors.Is(err, distance.ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func emptyIfNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
