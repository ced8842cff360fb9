package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasroute/internal/distance"
	"gasroute/internal/model"
)

func TestFleetSplitsByCapacityAndReportsOverflow(t *testing.T) {
	p, _ := newTestPlanner()
	vehicles := []model.Vehicle{
		{ID: "v1", Capacity: 50},
		{ID: "v2", Capacity: 50},
	}
	orders := []model.Order{order("a", 0, 1, 40), order("b", 1, 0, 40), order("c", 1, 1, 40)}

	plans, unassigned, err := p.PlanFleet(context.Background(), vehicles, orders, model.GoalMinimizeDistance, depart, nil)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assigned := 0
	for _, fp := range plans {
		assigned += len(fp.Plan.Waypoints)
		assert.LessOrEqual(t, fp.Plan.TotalLoad, fp.Vehicle.Capacity)
	}
	assert.Equal(t, 2, assigned)
	require.Len(t, unassigned, 1)
	assert.Equal(t, model.ViolationCapacity, unassigned[0].Reason)
}

func TestFleetEveryOrderAccountedForExactlyOnce(t *testing.T) {
	p, _ := newTestPlanner()
	vehicles := []model.Vehicle{
		{ID: "v1", Capacity: 30, Start: model.Coordinate{Lat: 0, Lng: 0}},
		{ID: "v2", Capacity: 30, Start: model.Coordinate{Lat: 10, Lng: 10}},
	}
	orders := []model.Order{
		order("a", 0, 1, 10), order("b", 0, 2, 10), order("c", 9, 9, 10),
		order("d", 10, 9, 10), order("e", 5, 5, 10), order("f", 1, 1, 10),
	}

	plans, unassigned, err := p.PlanFleet(context.Background(), vehicles, orders, model.GoalMinimizeDistance, depart, nil)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, fp := range plans {
		for _, wp := range fp.Plan.Waypoints {
			seen[wp.OrderID]++
		}
	}
	for _, ua := range unassigned {
		seen[ua.OrderID]++
	}
	require.Len(t, seen, len(orders))
	for id, n := range seen {
		assert.Equal(t, 1, n, "order %s appears %d times", id, n)
	}
}

func TestFleetBalanceWorkloadSpreadsLoad(t *testing.T) {
	p, _ := newTestPlanner()
	vehicles := []model.Vehicle{
		{ID: "v1", Capacity: 100},
		{ID: "v2", Capacity: 100},
	}
	orders := []model.Order{
		order("a", 0, 1, 20), order("b", 0, 2, 20),
		order("c", 0, 3, 20), order("d", 0, 4, 20),
	}

	plans, unassigned, err := p.PlanFleet(context.Background(), vehicles, orders, model.GoalBalanceWorkload, depart, nil)
	require.NoError(t, err)
	assert.Empty(t, unassigned)
	require.Len(t, plans, 2)
	assert.Equal(t, 40.0, plans[0].Plan.TotalLoad)
	assert.Equal(t, 40.0, plans[1].Plan.TotalLoad)
}

func TestFleetRejectsUnknownGoal(t *testing.T) {
	p, _ := newTestPlanner()
	_, _, err := p.PlanFleet(context.Background(), []model.Vehicle{{ID: "v1"}}, nil, "maximize_fun", depart, nil)
	assert.ErrorIs(t, err, ErrInvalidConstraints)
}

func TestFleetRequiresVehicles(t *testing.T) {
	p, _ := newTestPlanner()
	_, _, err := p.PlanFleet(context.Background(), nil, []model.Order{order("a", 0, 1, 0)}, "", depart, nil)
	assert.ErrorIs(t, err, ErrInvalidConstraints)
}

func TestFleetSingleMatrixCallThroughRunCache(t *testing.T) {
	g := &gridProvider{}
	p := &Planner{Provider: distance.NewRunCache(g), ImprovementPasses: 50, RebalancePasses: 2}
	vehicles := []model.Vehicle{
		{ID: "v1", Capacity: 100},
		{ID: "v2", Capacity: 100, Start: model.Coordinate{Lat: 5, Lng: 5}},
	}
	orders := []model.Order{
		order("a", 0, 1, 10), order("b", 0, 2, 10),
		order("c", 5, 6, 10), order("d", 5, 7, 10),
	}

	_, _, err := p.PlanFleet(context.Background(), vehicles, orders, "", depart, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, g.calls, "per-vehicle sequencing must reuse the warm pair cache")
}
