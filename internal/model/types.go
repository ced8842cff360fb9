package model

import "time"

// Coordinate is a WGS84 point. Planning treats it as opaque; only the
// distance provider interprets it.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TimeWindow is the permissible arrival interval for a stop.
type TimeWindow struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// DemandLine is one product line of an order (cylinder type and count,
// expressed in the same capacity unit as Vehicle.Capacity).
type DemandLine struct {
	Product  string  `json:"product"`
	Quantity float64 `json:"quantity"`
}

// Order is a delivery request. Immutable once an optimization run starts.
type Order struct {
	ID             string       `json:"id"`
	Address        string       `json:"address,omitempty"`
	Location       Coordinate   `json:"location"`
	Demand         []DemandLine `json:"demand,omitempty"`
	Window         *TimeWindow  `json:"timeWindow,omitempty"`
	Priority       bool         `json:"priority,omitempty"`
	ServiceMinutes float64      `json:"serviceMinutes,omitempty"`
}

// TotalDemand sums all demand lines.
func (o Order) TotalDemand() float64 {
	total := 0.0
	for _, d := range o.Demand {
		total += d.Quantity
	}
	return total
}

// Vehicle is a read-only input to the planner.
type Vehicle struct {
	ID       string     `json:"id"`
	Capacity float64    `json:"capacity"`
	Start    Coordinate `json:"start"`
	DriverID string     `json:"driverId,omitempty"`
}

// Route lifecycle statuses.
const (
	RoutePending    = "pending"
	RouteOptimized  = "optimized"
	RouteInProgress = "in_progress"
	RouteCompleted  = "completed"
	RouteCancelled  = "cancelled"
)

// TerminalStatus reports whether a route can no longer change.
func TerminalStatus(status string) bool {
	return status == RouteCompleted || status == RouteCancelled
}

// Waypoint is one stop on a route, bound to exactly one order.
// Seq values within a route are a contiguous permutation of [0, n).
type Waypoint struct {
	OrderID          string     `json:"orderId"`
	Seq              int        `json:"seq"`
	Address          string     `json:"address,omitempty"`
	EstimatedArrival time.Time  `json:"estimatedArrival"`
	ServiceMinutes   float64    `json:"serviceMinutes"`
	DistanceKm       float64    `json:"distanceKm"`
	WaitMinutes      float64    `json:"waitMinutes,omitempty"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	// LastEventAt is the timestamp of the newest applied progress event for
	// this waypoint; older events are discarded.
	LastEventAt time.Time `json:"lastEventAt,omitempty"`
}

// Route is the planner output and the unit the progress tracker mutates.
type Route struct {
	ID                   string     `json:"id"`
	Version              int        `json:"version"`
	ScheduledDate        string     `json:"scheduledDate"`
	VehicleID            string     `json:"vehicleId"`
	DriverID             string     `json:"driverId,omitempty"`
	Status               string     `json:"status"`
	Waypoints            []Waypoint `json:"waypoints"`
	TotalDistanceKm      float64    `json:"totalDistanceKm"`
	EstimatedDurationMin float64    `json:"estimatedDurationMinutes"`
	TotalLoad            float64    `json:"totalLoad"`
	Degraded             bool       `json:"degraded,omitempty"`
	Polyline             string     `json:"polyline,omitempty"`
}

// Constraints carries every recognized optimization constraint explicitly;
// absent (nil/zero) fields mean unconstrained.
type Constraints struct {
	MaxDistanceKm      *float64              `json:"maxDistanceKm,omitempty"`
	MaxDurationMinutes *float64              `json:"maxDurationMinutes,omitempty"`
	TimeWindows        map[string]TimeWindow `json:"timeWindows,omitempty"` // order id -> override
	PriorityOrders     []string              `json:"priorityOrders,omitempty"`
	// PriorityWindow is the number of leading positions priority orders must
	// occupy when feasible. Zero means "before all non-priority orders".
	PriorityWindow int `json:"priorityWindow,omitempty"`
}

// Window resolves the effective time window for an order, honoring
// constraint-level overrides.
func (c *Constraints) Window(o Order) *TimeWindow {
	if c != nil {
		if tw, ok := c.TimeWindows[o.ID]; ok {
			return &tw
		}
	}
	return o.Window
}

// IsPriority reports whether an order must be scheduled early, either via its
// own flag or the constraint list.
func (c *Constraints) IsPriority(o Order) bool {
	if o.Priority {
		return true
	}
	if c == nil {
		return false
	}
	for _, id := range c.PriorityOrders {
		if id == o.ID {
			return true
		}
	}
	return false
}

// Violation types reported by the feasibility checker.
const (
	ViolationTimeWindow     = "time_window"
	ViolationCapacity       = "capacity"
	ViolationDistanceBudget = "distance_budget"
	ViolationDurationBudget = "duration_budget"
	ViolationPriorityOrder  = "priority_position"
)

// Violation pins a constraint breach to a stop.
type Violation struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId,omitempty"`
	Seq     int    `json:"seq"`
	Detail  string `json:"detail,omitempty"`
}

// UnassignedOrder is an order the planner could not feasibly place. Never
// silently dropped; always surfaced to the caller.
type UnassignedOrder struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// Optimization goals for fleet assignment.
const (
	GoalMinimizeDistance = "minimize_distance"
	GoalBalanceWorkload  = "balance_workload"
)

// OptimizeRequest plans a single vehicle's route over the given orders.
type OptimizeRequest struct {
	ScheduledDate string       `json:"scheduledDate"`
	VehicleID     string       `json:"vehicleId"`
	DriverID      string       `json:"driverId,omitempty"`
	Capacity      float64      `json:"capacity"`
	StartLocation Coordinate   `json:"startLocation"`
	DepartAt      time.Time    `json:"departAt,omitempty"`
	Orders        []Order      `json:"orders"`
	Constraints   *Constraints `json:"constraints,omitempty"`
}

type OptimizeResponse struct {
	Route             Route             `json:"route"`
	OptimizedSequence []string          `json:"optimizedSequence"`
	OrdersUnassigned  []UnassignedOrder `json:"ordersUnassigned"`
}

// FleetOptimizeRequest partitions orders across vehicles, then sequences each.
type FleetOptimizeRequest struct {
	ScheduledDate string       `json:"scheduledDate"`
	Vehicles      []Vehicle    `json:"vehicles"`
	Orders        []Order      `json:"orders"`
	Goal          string       `json:"optimizationGoal,omitempty"`
	DepartAt      time.Time    `json:"departAt,omitempty"`
	Constraints   *Constraints `json:"constraints,omitempty"`
}

type FleetOptimizeResponse struct {
	Routes           []Route           `json:"routes"`
	OrdersUnassigned []UnassignedOrder `json:"ordersUnassigned"`
}

// ReorderRequest moves one order to a new position in an existing route.
type ReorderRequest struct {
	OrderID     string `json:"orderId"`
	NewPosition int    `json:"newPosition"`
	// Force applies the move even when it breaks a constraint; the verdict is
	// still reported.
	Force bool `json:"force,omitempty"`
}

type ReorderResponse struct {
	Waypoints  []Waypoint  `json:"waypoints"`
	Feasible   bool        `json:"feasible"`
	Applied    bool        `json:"applied"`
	Violations []Violation `json:"violations"`
}

// Progress event types from the field transport.
const (
	EventLocation = "location"
	EventStatus   = "status"
)

// RouteEvent is a delivery-status or location event. Events may arrive
// duplicated or out of order; application is idempotent and last-write-wins
// by Timestamp.
type RouteEvent struct {
	Type      string         `json:"type"`
	OrderID   string         `json:"orderId,omitempty"`
	DriverID  string         `json:"driverId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type EventResponse struct {
	RouteStatus    string `json:"routeStatus"`
	WaypointStatus string `json:"waypointStatus,omitempty"`
	Applied        bool   `json:"applied"`
}

type RoutePatch struct {
	Status string `json:"status,omitempty"`
}

// Webhook subscription records.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
