package engine

import (
	"context"
	"fmt"
	"time"

	"gasroute/internal/model"
)

// distEps guards floating-point comparisons of route objectives.
const distEps = 1e-9

// SequenceVehicle plans the stop sequence for a single vehicle: cheapest
// insertion seeds the route (priority orders first), then bounded 2-opt and
// relocation passes improve it. Orders that cannot be placed feasibly are
// returned in Unassigned, never silently dropped.
//
// Cancelling ctx stops improvement early and returns the best sequence found
// so far; it is an error only if the distance matrix was never obtained.
func (p *Planner) SequenceVehicle(ctx context.Context, veh model.Vehicle, departAt time.Time, orders []model.Order, cons *model.Constraints) (VehiclePlan, error) {
	orders = p.applyDefaults(orders)
	tr, err := p.travelFor(ctx, veh.Start, orders)
	if err != nil {
		return VehiclePlan{}, err
	}
	if err := validateConstraints(cons, orders, tr); err != nil {
		return VehiclePlan{}, err
	}

	var pri, plain []model.Order
	for _, o := range orders {
		if cons.IsPriority(o) {
			pri = append(pri, o)
		} else {
			plain = append(plain, o)
		}
	}

	run := &seqRun{planner: p, veh: veh, departAt: departAt, cons: cons, tr: tr}
	run.insertAll(pri)
	run.insertAll(plain)
	run.improve(ctx)

	final := checkSequence(run.seq, veh, departAt, cons, tr)
	return VehiclePlan{
		Waypoints:       waypointsFromSchedule(final),
		TotalDistanceKm: final.TotalDistanceKm,
		DurationMinutes: final.DurationMinutes,
		TotalLoad:       final.TotalLoad,
		Degraded:        tr.mat.Degraded,
		Violations:      final.Violations,
		Unassigned:      run.unassigned,
	}, nil
}

// seqRun is the mutable state of one sequencing call.
type seqRun struct {
	planner  *Planner
	veh      model.Vehicle
	departAt time.Time
	cons     *model.Constraints
	tr       *travelTable

	seq        []model.Order
	cur        Schedule
	unassigned []model.UnassignedOrder
}

func (r *seqRun) check(seq []model.Order) Schedule {
	return checkSequence(seq, r.veh, r.departAt, r.cons, r.tr)
}

// insertAll runs cheapest insertion over one group of orders: each round
// adopts the (order, position) pair with the smallest distance increase among
// feasible placements. When no strict placement exists, placements whose only
// breach is priority positioning are accepted so the conflict is reported
// instead of the order being lost.
func (r *seqRun) insertAll(group []model.Order) {
	pool := append([]model.Order(nil), group...)
	for len(pool) > 0 {
		bestIdx, bestSeq, bestSched, ok := r.bestInsertion(pool, false)
		if !ok {
			bestIdx, bestSeq, bestSched, ok = r.bestInsertion(pool, true)
		}
		if !ok {
			for _, o := range pool {
				r.unassigned = append(r.unassigned, r.classifyUnassigned(o))
			}
			return
		}
		r.seq, r.cur = bestSeq, bestSched
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
}

// bestInsertion scans every (order, position) pair. With relax set, placements
// whose violations are all priority-positioning are considered too.
func (r *seqRun) bestInsertion(pool []model.Order, relax bool) (int, []model.Order, Schedule, bool) {
	bestIdx := -1
	var bestSeq []model.Order
	var bestSched Schedule
	bestDelta := 0.0
	for pi, o := range pool {
		for pos := 0; pos <= len(r.seq); pos++ {
			cand := splice(r.seq, pos, o)
			sched := r.check(cand)
			if !sched.Feasible() && !(relax && onlyPriorityViolations(sched.Violations)) {
				continue
			}
			delta := sched.TotalDistanceKm - r.cur.TotalDistanceKm
			if bestIdx < 0 || delta < bestDelta-distEps ||
				(delta < bestDelta+distEps && r.tieBetter(sched, bestSched)) {
				bestIdx, bestSeq, bestSched, bestDelta = pi, cand, sched, delta
			}
		}
	}
	return bestIdx, bestSeq, bestSched, bestIdx >= 0
}

// tieBetter orders candidates whose distance delta ties: lower worst
// time-window lateness wins, then the shorter schedule.
func (r *seqRun) tieBetter(cand, best Schedule) bool {
	cl, bl := cand.maxLatenessMinutes(r.cons), best.maxLatenessMinutes(r.cons)
	if cl < bl-distEps {
		return true
	}
	return cl < bl+distEps && cand.DurationMinutes < best.DurationMinutes-distEps
}

// classifyUnassigned explains why an order could not be placed: the dominant
// violation of its least-bad insertion attempt.
func (r *seqRun) classifyUnassigned(o model.Order) model.UnassignedOrder {
	if r.veh.Capacity > 0 && r.cur.TotalLoad+o.TotalDemand() > r.veh.Capacity {
		return model.UnassignedOrder{
			OrderID: o.ID,
			Reason:  model.ViolationCapacity,
			Detail:  fmt.Sprintf("demand %.1f does not fit remaining capacity %.1f", o.TotalDemand(), r.veh.Capacity-r.cur.TotalLoad),
		}
	}
	var best *Schedule
	for pos := 0; pos <= len(r.seq); pos++ {
		sched := r.check(splice(r.seq, pos, o))
		if best == nil || len(sched.Violations) < len(best.Violations) ||
			(len(sched.Violations) == len(best.Violations) &&
				sched.maxLatenessMinutes(r.cons) < best.maxLatenessMinutes(r.cons)) {
			s := sched
			best = &s
		}
	}
	reason, detail := model.ViolationTimeWindow, "no feasible position in sequence"
	if best != nil && len(best.Violations) > 0 {
		reason, detail = best.Violations[0].Type, best.Violations[0].Detail
		for _, v := range best.Violations {
			if v.OrderID == o.ID {
				reason, detail = v.Type, v.Detail
				break
			}
		}
	}
	return model.UnassignedOrder{OrderID: o.ID, Reason: reason, Detail: detail}
}

// improve runs bounded 2-opt and single-order relocation sweeps. Moves are
// accepted only when they keep the current feasibility level and strictly
// reduce distance, or hold distance and strictly reduce duration.
func (r *seqRun) improve(ctx context.Context) {
	passes := r.planner.ImprovementPasses
	if passes <= 0 {
		passes = 200
	}
	for pass := 0; pass < passes; pass++ {
		if ctx.Err() != nil {
			return
		}
		if r.sweepTwoOpt() || r.sweepRelocate() {
			continue
		}
		return
	}
}

func (r *seqRun) sweepTwoOpt() bool {
	for i := 0; i < len(r.seq)-1; i++ {
		for j := i + 1; j < len(r.seq); j++ {
			cand := reverseSegment(r.seq, i, j)
			if sched := r.check(cand); r.accept(sched) {
				r.seq, r.cur = cand, sched
				return true
			}
		}
	}
	return false
}

func (r *seqRun) sweepRelocate() bool {
	for i := 0; i < len(r.seq); i++ {
		for pos := 0; pos <= len(r.seq)-1; pos++ {
			if pos == i {
				continue
			}
			cand := relocate(r.seq, i, pos)
			if sched := r.check(cand); r.accept(sched) {
				r.seq, r.cur = cand, sched
				return true
			}
		}
	}
	return false
}

func (r *seqRun) accept(cand Schedule) bool {
	if !violationsNotWorse(cand.Violations, r.cur.Violations) {
		return false
	}
	if cand.TotalDistanceKm < r.cur.TotalDistanceKm-distEps {
		return true
	}
	return cand.TotalDistanceKm < r.cur.TotalDistanceKm+distEps &&
		cand.DurationMinutes < r.cur.DurationMinutes-distEps
}

// violationsNotWorse holds when the candidate introduces no violation type the
// current sequence does not already have, and no more of any existing type.
func violationsNotWorse(cand, cur []model.Violation) bool {
	have := map[string]int{}
	for _, v := range cur {
		have[v.Type]++
	}
	for _, v := range cand {
		have[v.Type]--
		if have[v.Type] < 0 {
			return false
		}
	}
	return true
}

func onlyPriorityViolations(vs []model.Violation) bool {
	if len(vs) == 0 {
		return false
	}
	for _, v := range vs {
		if v.Type != model.ViolationPriorityOrder {
			return false
		}
	}
	return true
}

func splice(seq []model.Order, pos int, o model.Order) []model.Order {
	out := make([]model.Order, 0, len(seq)+1)
	out = append(out, seq[:pos]...)
	out = append(out, o)
	out = append(out, seq[pos:]...)
	return out
}

func reverseSegment(seq []model.Order, i, j int) []model.Order {
	out := append([]model.Order(nil), seq...)
	for a, b := i, j; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out
}

func relocate(seq []model.Order, from, to int) []model.Order {
	out := make([]model.Order, 0, len(seq))
	out = append(out, seq[:from]...)
	out = append(out, seq[from+1:]...)
	tail := append([]model.Order(nil), out[to:]...)
	out = append(out[:to], seq[from])
	out = append(out, tail...)
	return out
}
