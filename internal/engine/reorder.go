package engine

import (
	"context"
	"fmt"
	"time"

	"gasroute/internal/model"
)

// ReorderInput is the route snapshot needed to re-evaluate a manual move:
// the vehicle, its departure time, and the orders in current visit order.
type ReorderInput struct {
	Vehicle     model.Vehicle
	DepartAt    time.Time
	Orders      []model.Order
	Constraints *model.Constraints
}

// ReorderResult is the re-checked schedule after moving one order. Waypoints
// and totals are always populated, even for an infeasible move, so the caller
// can show the dispatcher exactly what would break.
type ReorderResult struct {
	Sequence        []model.Order
	Waypoints       []model.Waypoint
	TotalDistanceKm float64
	DurationMinutes float64
	TotalLoad       float64
	Degraded        bool
	Feasible        bool
	Violations      []model.Violation
}

// Reorder moves one order to a new position and runs a single feasibility
// pass over the resulting sequence. No re-optimization happens: the
// dispatcher's chosen order stands, only the schedule is recomputed.
func (p *Planner) Reorder(ctx context.Context, in ReorderInput, orderID string, newPos int) (ReorderResult, error) {
	orders := p.applyDefaults(in.Orders)
	from := -1
	for i, o := range orders {
		if o.ID == orderID {
			from = i
			break
		}
	}
	if from < 0 {
		return ReorderResult{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if newPos < 0 || newPos >= len(orders) {
		return ReorderResult{}, fmt.Errorf("%w: position %d out of range [0,%d)", ErrInvalidConstraints, newPos, len(orders))
	}

	seq := relocate(orders, from, newPos)
	tr, err := p.travelFor(ctx, in.Vehicle.Start, seq)
	if err != nil {
		return ReorderResult{}, err
	}
	if err := validateConstraints(in.Constraints, seq, tr); err != nil {
		return ReorderResult{}, err
	}

	sched := checkSequence(seq, in.Vehicle, in.DepartAt, in.Constraints, tr)
	return ReorderResult{
		Sequence:        seq,
		Waypoints:       waypointsFromSchedule(sched),
		TotalDistanceKm: sched.TotalDistanceKm,
		DurationMinutes: sched.DurationMinutes,
		TotalLoad:       sched.TotalLoad,
		Degraded:        tr.mat.Degraded,
		Feasible:        sched.Feasible(),
		Violations:      sched.Violations,
	}, nil
}
