package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"gasroute/internal/model"
)

// FleetPlan pairs a vehicle with its sequenced plan.
type FleetPlan struct {
	Vehicle model.Vehicle
	Plan    VehiclePlan
}

// PlanFleet partitions orders across vehicles under the requested goal, then
// sequences each vehicle independently. One matrix call up front covers every
// vehicle start and order location, so the per-vehicle sequencing that follows
// is served from the run cache.
//
// Orders no vehicle can take are returned unassigned with the blocking
// constraint named. The goal only steers assignment and rebalancing; it never
// relaxes feasibility.
func (p *Planner) PlanFleet(ctx context.Context, vehicles []model.Vehicle, orders []model.Order, goal string, departAt time.Time, cons *model.Constraints) ([]FleetPlan, []model.UnassignedOrder, error) {
	switch goal {
	case "":
		goal = model.GoalMinimizeDistance
	case model.GoalMinimizeDistance, model.GoalBalanceWorkload:
	default:
		return nil, nil, fmt.Errorf("%w: unknown optimization goal %q", ErrInvalidConstraints, goal)
	}
	if len(vehicles) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one vehicle is required", ErrInvalidConstraints)
	}
	orders = p.applyDefaults(orders)

	ft, err := p.fleetTableFor(ctx, vehicles, orders)
	if err != nil {
		return nil, nil, err
	}
	if err := validateConstraints(cons, orders, nil); err != nil {
		return nil, nil, err
	}

	buckets := make([]*bucket, len(vehicles))
	for i, v := range vehicles {
		buckets[i] = &bucket{veh: v}
	}

	var unassigned []model.UnassignedOrder
	for _, o := range orderPriorityFirst(orders, cons) {
		b := chooseBucket(buckets, o, goal, ft)
		if b == nil {
			unassigned = append(unassigned, model.UnassignedOrder{
				OrderID: o.ID,
				Reason:  model.ViolationCapacity,
				Detail:  fmt.Sprintf("demand %.1f exceeds every vehicle's remaining capacity", o.TotalDemand()),
			})
			continue
		}
		b.add(o)
	}

	plans := make([]VehiclePlan, len(buckets))
	for i, b := range buckets {
		plan, err := p.SequenceVehicle(ctx, b.veh, departAt, b.orders, cons)
		if err != nil {
			return nil, nil, err
		}
		plans[i] = plan
	}

	unassigned = append(unassigned, p.reassignLeftovers(ctx, buckets, plans, departAt, cons)...)
	p.rebalance(ctx, goal, buckets, plans, departAt, cons)

	out := make([]FleetPlan, len(buckets))
	for i, b := range buckets {
		plans[i].Unassigned = nil // leftovers are reported fleet-wide
		out[i] = FleetPlan{Vehicle: b.veh, Plan: plans[i]}
	}
	return out, unassigned, nil
}

type bucket struct {
	veh    model.Vehicle
	orders []model.Order
	load   float64
}

func (b *bucket) add(o model.Order) {
	b.orders = append(b.orders, o)
	b.load += o.TotalDemand()
}

func (b *bucket) fits(o model.Order) bool {
	return b.veh.Capacity <= 0 || b.load+o.TotalDemand() <= b.veh.Capacity
}

func (b *bucket) remaining() float64 {
	if b.veh.Capacity <= 0 {
		return math.MaxFloat64
	}
	return b.veh.Capacity - b.load
}

// fleetTable indexes one matrix over every vehicle start and order location.
type fleetTable struct {
	tr   *travelTable
	vidx map[string]string // vehicle id -> synthetic order id at its start
}

func (p *Planner) fleetTableFor(ctx context.Context, vehicles []model.Vehicle, orders []model.Order) (*fleetTable, error) {
	points := make([]model.Coordinate, 0, len(vehicles)+len(orders))
	index := map[string]int{}
	vidx := map[string]string{}
	for i, v := range vehicles {
		id := fmt.Sprintf("\x00start:%d", i)
		vidx[v.ID] = id
		index[id] = len(points)
		points = append(points, v.Start)
	}
	for _, o := range orders {
		index[o.ID] = len(points)
		points = append(points, o.Location)
	}
	mat, err := p.Provider.Matrix(ctx, points)
	if err != nil {
		return nil, err
	}
	return &fleetTable{tr: &travelTable{mat: mat, index: index}, vidx: vidx}, nil
}

// marginalKm is the cheapest single-insertion probe: the distance added by
// placing the order at its best gap in the bucket's current order list.
func (f *fleetTable) marginalKm(b *bucket, o model.Order) float64 {
	prev := f.vidx[b.veh.ID]
	if len(b.orders) == 0 {
		km, _ := f.tr.leg(prev, o.ID)
		return km
	}
	best := math.MaxFloat64
	for pos := 0; pos <= len(b.orders); pos++ {
		var delta float64
		switch {
		case pos == len(b.orders):
			km, _ := f.tr.leg(b.orders[pos-1].ID, o.ID)
			delta = km
		case pos == 0:
			in, _ := f.tr.leg(prev, o.ID)
			out, _ := f.tr.leg(o.ID, b.orders[0].ID)
			old, _ := f.tr.leg(prev, b.orders[0].ID)
			delta = in + out - old
		default:
			in, _ := f.tr.leg(b.orders[pos-1].ID, o.ID)
			out, _ := f.tr.leg(o.ID, b.orders[pos].ID)
			old, _ := f.tr.leg(b.orders[pos-1].ID, b.orders[pos].ID)
			delta = in + out - old
		}
		if delta < best {
			best = delta
		}
	}
	return best
}

func chooseBucket(buckets []*bucket, o model.Order, goal string, ft *fleetTable) *bucket {
	var best *bucket
	bestCost, bestRemaining := 0.0, 0.0
	for _, b := range buckets {
		if !b.fits(o) {
			continue
		}
		cost := ft.marginalKm(b, o)
		switch goal {
		case model.GoalBalanceWorkload:
			rem := b.remaining()
			if best == nil || rem > bestRemaining+distEps ||
				(rem > bestRemaining-distEps && cost < bestCost-distEps) {
				best, bestRemaining, bestCost = b, rem, cost
			}
		default:
			if best == nil || cost < bestCost-distEps {
				best, bestCost = b, cost
			}
		}
	}
	return best
}

func orderPriorityFirst(orders []model.Order, cons *model.Constraints) []model.Order {
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if cons.IsPriority(o) {
			out = append(out, o)
		}
	}
	for _, o := range orders {
		if !cons.IsPriority(o) {
			out = append(out, o)
		}
	}
	return out
}

// reassignLeftovers gives orders a sequencer rejected a second chance on the
// other vehicles. Orders no vehicle can serve become fleet-wide unassigned.
func (p *Planner) reassignLeftovers(ctx context.Context, buckets []*bucket, plans []VehiclePlan, departAt time.Time, cons *model.Constraints) []model.UnassignedOrder {
	var out []model.UnassignedOrder
	for i := range plans {
		for _, ua := range plans[i].Unassigned {
			o, ok := takeOrder(buckets[i], ua.OrderID)
			if !ok {
				out = append(out, ua)
				continue
			}
			placed := false
			for j := range buckets {
				if j == i || !buckets[j].fits(o) {
					continue
				}
				trial, err := p.SequenceVehicle(ctx, buckets[j].veh, departAt, append(append([]model.Order(nil), buckets[j].orders...), o), cons)
				if err != nil || len(trial.Unassigned) > 0 || len(trial.Violations) > len(plans[j].Violations) {
					continue
				}
				buckets[j].add(o)
				plans[j] = trial
				placed = true
				break
			}
			if !placed {
				out = append(out, ua)
			}
		}
		plans[i].Unassigned = nil
	}
	return out
}

func takeOrder(b *bucket, id string) (model.Order, bool) {
	for i, o := range b.orders {
		if o.ID == id {
			b.orders = append(b.orders[:i], b.orders[i+1:]...)
			b.load -= o.TotalDemand()
			return o, true
		}
	}
	return model.Order{}, false
}

// rebalance moves single orders between vehicles while both routes stay
// feasible and the requested goal strictly improves. Bounded passes; a move
// that improves the non-requested goal is rejected.
func (p *Planner) rebalance(ctx context.Context, goal string, buckets []*bucket, plans []VehiclePlan, departAt time.Time, cons *model.Constraints) {
	passes := p.RebalancePasses
	if passes <= 0 {
		passes = 3
	}
	for pass := 0; pass < passes; pass++ {
		if ctx.Err() != nil {
			return
		}
		if !p.rebalanceOnce(ctx, goal, buckets, plans, departAt, cons) {
			return
		}
	}
}

func (p *Planner) rebalanceOnce(ctx context.Context, goal string, buckets []*bucket, plans []VehiclePlan, departAt time.Time, cons *model.Constraints) bool {
	for i := range buckets {
		for _, o := range append([]model.Order(nil), buckets[i].orders...) {
			for j := range buckets {
				if j == i || !buckets[j].fits(o) || ctx.Err() != nil {
					continue
				}
				src := ordersWithout(buckets[i].orders, o.ID)
				dst := append(append([]model.Order(nil), buckets[j].orders...), o)
				srcPlan, err := p.SequenceVehicle(ctx, buckets[i].veh, departAt, src, cons)
				if err != nil || len(srcPlan.Unassigned) > 0 || len(srcPlan.Violations) > 0 {
					continue
				}
				dstPlan, err := p.SequenceVehicle(ctx, buckets[j].veh, departAt, dst, cons)
				if err != nil || len(dstPlan.Unassigned) > 0 || len(dstPlan.Violations) > 0 {
					continue
				}
				if !moveImproves(goal, buckets, plans, i, j, srcPlan, dstPlan, o) {
					continue
				}
				takeOrder(buckets[i], o.ID)
				buckets[j].add(o)
				plans[i], plans[j] = srcPlan, dstPlan
				return true
			}
		}
	}
	return false
}

func moveImproves(goal string, buckets []*bucket, plans []VehiclePlan, i, j int, srcPlan, dstPlan VehiclePlan, o model.Order) bool {
	if goal == model.GoalBalanceWorkload {
		return loadSpreadAfter(buckets, i, j, o.TotalDemand()) < loadSpread(buckets)-distEps
	}
	before := plans[i].TotalDistanceKm + plans[j].TotalDistanceKm
	after := srcPlan.TotalDistanceKm + dstPlan.TotalDistanceKm
	return after < before-distEps
}

func loadSpread(buckets []*bucket) float64 {
	lo, hi := math.MaxFloat64, 0.0
	for _, b := range buckets {
		if b.load < lo {
			lo = b.load
		}
		if b.load > hi {
			hi = b.load
		}
	}
	return hi - lo
}

func loadSpreadAfter(buckets []*bucket, i, j int, demand float64) float64 {
	lo, hi := math.MaxFloat64, 0.0
	for k, b := range buckets {
		load := b.load
		if k == i {
			load -= demand
		}
		if k == j {
			load += demand
		}
		if load < lo {
			lo = load
		}
		if load > hi {
			hi = load
		}
	}
	return hi - lo
}

func ordersWithout(orders []model.Order, id string) []model.Order {
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.ID != id {
			out = append(out, o)
		}
	}
	return out
}
