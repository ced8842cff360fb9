// Package engine implements the route optimization core: feasibility
// checking, single-vehicle sequencing, fleet assignment, and incremental
// re-optimization. The engine is stateless; all inputs arrive as arguments
// and all results are returned to the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gasroute/internal/distance"
	"gasroute/internal/model"
)

// ErrInvalidConstraints rejects a request before any solving begins, e.g. a
// distance budget below the minimum feasible single leg.
var ErrInvalidConstraints = errors.New("invalid constraints")

// ErrUnknownOrder reports a reorder move referencing an order that is not on
// the route.
var ErrUnknownOrder = errors.New("order not on route")

// Planner holds the tunables for one engine instance. A Planner is safe for
// concurrent use; each plan call builds its own run-scoped state.
type Planner struct {
	Provider distance.Provider
	// ImprovementPasses caps local-search sweeps per route. Exceeding the cap
	// is not an error; the best sequence found so far is returned.
	ImprovementPasses int
	// RebalancePasses caps cross-vehicle improvement rounds.
	RebalancePasses int
	// ServiceMinutes is the default per-stop service time when an order
	// carries none.
	ServiceMinutes float64
}

// VehiclePlan is the sequencing result for one vehicle.
type VehiclePlan struct {
	Waypoints       []model.Waypoint
	TotalDistanceKm float64
	DurationMinutes float64
	TotalLoad       float64
	Degraded        bool
	// Violations carries constraint breaches the planner had to accept (e.g.
	// a priority order forced late by window conflicts). Reported, not hidden.
	Violations []model.Violation
	Unassigned []model.UnassignedOrder
}

// travelTable binds a distance matrix to order identity. Index 0 is the
// vehicle start; order i sits at index i+1.
type travelTable struct {
	mat   *distance.Matrix
	index map[string]int
}

// leg returns km and minutes from one order to another; an empty id means the
// vehicle start.
func (t *travelTable) leg(fromID, toID string) (float64, float64) {
	i, j := 0, 0
	if fromID != "" {
		i = t.index[fromID]
	}
	if toID != "" {
		j = t.index[toID]
	}
	return t.mat.Distances[i][j], t.mat.Durations[i][j]
}

func (p *Planner) travelFor(ctx context.Context, start model.Coordinate, orders []model.Order) (*travelTable, error) {
	points := make([]model.Coordinate, 0, len(orders)+1)
	points = append(points, start)
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		points = append(points, o.Location)
		index[o.ID] = i + 1
	}
	mat, err := p.Provider.Matrix(ctx, points)
	if err != nil {
		return nil, err
	}
	return &travelTable{mat: mat, index: index}, nil
}

// applyDefaults fills per-order defaults without mutating caller slices.
func (p *Planner) applyDefaults(orders []model.Order) []model.Order {
	out := make([]model.Order, len(orders))
	copy(out, orders)
	for i := range out {
		if out[i].ServiceMinutes <= 0 {
			out[i].ServiceMinutes = p.ServiceMinutes
		}
	}
	return out
}

// validateConstraints rejects impossible requests before solving.
func validateConstraints(cons *model.Constraints, orders []model.Order, tr *travelTable) error {
	if cons == nil {
		return nil
	}
	if cons.MaxDistanceKm != nil && *cons.MaxDistanceKm < 0 {
		return fmt.Errorf("%w: maxDistanceKm must be >= 0", ErrInvalidConstraints)
	}
	if cons.MaxDurationMinutes != nil && *cons.MaxDurationMinutes < 0 {
		return fmt.Errorf("%w: maxDurationMinutes must be >= 0", ErrInvalidConstraints)
	}
	if cons.PriorityWindow < 0 {
		return fmt.Errorf("%w: priorityWindow must be >= 0", ErrInvalidConstraints)
	}
	for id, tw := range cons.TimeWindows {
		if tw.Latest.Before(tw.Earliest) {
			return fmt.Errorf("%w: time window for %s ends before it starts", ErrInvalidConstraints, id)
		}
	}
	for _, o := range orders {
		if o.Window != nil && o.Window.Latest.Before(o.Window.Earliest) {
			return fmt.Errorf("%w: time window for %s ends before it starts", ErrInvalidConstraints, o.ID)
		}
	}
	if cons.MaxDistanceKm != nil && len(orders) > 0 && tr != nil {
		minLeg := -1.0
		for _, o := range orders {
			km, _ := tr.leg("", o.ID)
			if minLeg < 0 || km < minLeg {
				minLeg = km
			}
		}
		if minLeg >= 0 && *cons.MaxDistanceKm < minLeg {
			return fmt.Errorf("%w: maxDistanceKm %.2f is below the shortest feasible leg %.2f", ErrInvalidConstraints, *cons.MaxDistanceKm, minLeg)
		}
	}
	return nil
}

// waypointsFromSchedule converts a feasible schedule into the wire shape.
func waypointsFromSchedule(s Schedule) []model.Waypoint {
	wps := make([]model.Waypoint, len(s.Stops))
	for i, st := range s.Stops {
		wps[i] = model.Waypoint{
			OrderID:          st.Order.ID,
			Seq:              i,
			Address:          st.Order.Address,
			EstimatedArrival: st.Arrival,
			ServiceMinutes:   st.Order.ServiceMinutes,
			DistanceKm:       st.LegKm,
			WaitMinutes:      st.WaitMinutes,
		}
	}
	return wps
}

func addMinutes(t time.Time, min float64) time.Time {
	return t.Add(time.Duration(min * float64(time.Minute)))
}
