package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasroute/internal/distance"
	"gasroute/internal/model"
)

var depart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// gridProvider treats coordinates as a flat plane: distance is Euclidean in
// "km" and travel runs at one km per minute. Deterministic and exact, which
// keeps schedule arithmetic in tests easy to follow.
type gridProvider struct {
	calls int
}

func (g *gridProvider) Matrix(_ context.Context, points []model.Coordinate) (*distance.Matrix, error) {
	g.calls++
	n := len(points)
	m := &distance.Matrix{Distances: make([][]float64, n), Durations: make([][]float64, n)}
	for i := range points {
		m.Distances[i] = make([]float64, n)
		m.Durations[i] = make([]float64, n)
		for j := range points {
			d := math.Hypot(points[i].Lat-points[j].Lat, points[i].Lng-points[j].Lng)
			m.Distances[i][j] = d
			m.Durations[i][j] = d
		}
	}
	return m, nil
}

func newTestPlanner() (*Planner, *gridProvider) {
	g := &gridProvider{}
	return &Planner{Provider: g, ImprovementPasses: 200, RebalancePasses: 3}, g
}

func order(id string, lat, lng, demand float64) model.Order {
	o := model.Order{ID: id, Location: model.Coordinate{Lat: lat, Lng: lng}}
	if demand > 0 {
		o.Demand = []model.DemandLine{{Product: "cyl-13kg", Quantity: demand}}
	}
	return o
}

func window(fromMin, toMin float64) *model.TimeWindow {
	return &model.TimeWindow{Earliest: addMinutes(depart, fromMin), Latest: addMinutes(depart, toMin)}
}

func TestSequenceVisitsNearestFirstOnALine(t *testing.T) {
	p, _ := newTestPlanner()
	orders := []model.Order{order("far", 0, 5, 0), order("near", 0, 1, 0), order("mid", 0, 2, 0)}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, nil)
	require.NoError(t, err)
	require.Len(t, plan.Waypoints, 3)
	assert.Empty(t, plan.Unassigned)
	assert.Equal(t, "near", plan.Waypoints[0].OrderID)
	assert.Equal(t, "mid", plan.Waypoints[1].OrderID)
	assert.Equal(t, "far", plan.Waypoints[2].OrderID)
	assert.InDelta(t, 5.0, plan.TotalDistanceKm, 1e-9)
}

func TestSequenceSeqContiguousAndArrivalsMonotonic(t *testing.T) {
	p, _ := newTestPlanner()
	p.ServiceMinutes = 10
	orders := []model.Order{
		order("a", 3, 1, 5), order("b", 1, 4, 5), order("c", 5, 5, 5),
		order("d", 2, 2, 5), order("e", 0, 6, 5),
	}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1", Capacity: 100}, depart, orders, nil)
	require.NoError(t, err)
	require.Len(t, plan.Waypoints, 5)
	for i, wp := range plan.Waypoints {
		assert.Equal(t, i, wp.Seq)
		assert.Equal(t, 10.0, wp.ServiceMinutes)
		if i > 0 {
			assert.False(t, wp.EstimatedArrival.Before(plan.Waypoints[i-1].EstimatedArrival),
				"arrival at stop %d precedes stop %d", i, i-1)
		}
	}
	assert.Equal(t, 25.0, plan.TotalLoad)
}

func TestSequenceWaitsOutEarlyArrival(t *testing.T) {
	p, _ := newTestPlanner()
	orders := []model.Order{{ID: "late-window", Location: model.Coordinate{Lat: 0, Lng: 2}, Window: window(30, 60)}}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, nil)
	require.NoError(t, err)
	require.Len(t, plan.Waypoints, 1)
	// Travel takes 2 minutes; the window opens at +30.
	assert.Equal(t, addMinutes(depart, 30), plan.Waypoints[0].EstimatedArrival)
	assert.InDelta(t, 28.0, plan.Waypoints[0].WaitMinutes, 1e-9)
}

func TestSequenceUnreachableWindowReportedUnassigned(t *testing.T) {
	p, _ := newTestPlanner()
	orders := []model.Order{
		order("ok", 0, 1, 0),
		{ID: "impossible", Location: model.Coordinate{Lat: 0, Lng: 50}, Window: window(0, 5)},
	}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, nil)
	require.NoError(t, err)
	require.Len(t, plan.Waypoints, 1)
	require.Len(t, plan.Unassigned, 1)
	assert.Equal(t, "impossible", plan.Unassigned[0].OrderID)
	assert.Equal(t, model.ViolationTimeWindow, plan.Unassigned[0].Reason)
}

func TestSequenceCapacityOverflowReportedUnassigned(t *testing.T) {
	p, _ := newTestPlanner()
	orders := []model.Order{order("a", 0, 1, 40), order("b", 0, 2, 40)}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1", Capacity: 50}, depart, orders, nil)
	require.NoError(t, err)
	require.Len(t, plan.Waypoints, 1)
	require.Len(t, plan.Unassigned, 1)
	assert.Equal(t, model.ViolationCapacity, plan.Unassigned[0].Reason)
	assert.LessOrEqual(t, plan.TotalLoad, 50.0)
}

func TestSequencePriorityOrderGoesFirst(t *testing.T) {
	p, _ := newTestPlanner()
	orders := []model.Order{
		order("near", 0, 1, 0),
		{ID: "vip", Location: model.Coordinate{Lat: 0, Lng: 4}, Priority: true},
		order("mid", 0, 2, 0),
	}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, nil)
	require.NoError(t, err)
	require.Len(t, plan.Waypoints, 3)
	assert.Equal(t, "vip", plan.Waypoints[0].OrderID)
	assert.Empty(t, plan.Violations)
}

func TestSequencePriorityConflictIsReportedNotHidden(t *testing.T) {
	p, _ := newTestPlanner()
	orders := []model.Order{
		{ID: "vip", Location: model.Coordinate{Lat: 0, Lng: 2}, Priority: true, Window: window(60, 120)},
		{ID: "plain", Location: model.Coordinate{Lat: 0, Lng: 1}, Window: window(0, 5)},
	}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, &model.Constraints{})
	require.NoError(t, err)
	require.Len(t, plan.Waypoints, 2, "both orders must still be routed")
	assert.Equal(t, "plain", plan.Waypoints[0].OrderID)
	require.NotEmpty(t, plan.Violations)
	assert.Equal(t, model.ViolationPriorityOrder, plan.Violations[0].Type)
	assert.Equal(t, "vip", plan.Violations[0].OrderID)
}

func TestSequenceDistanceTieBrokenByWait(t *testing.T) {
	p, _ := newTestPlanner()
	// Both orders are 1 km out in opposite directions, so either visiting order
	// covers 3 km. Visiting "windowed" first forces a 29-minute wait, so the
	// tie resolves to "open" first.
	orders := []model.Order{
		{ID: "windowed", Location: model.Coordinate{Lat: 0, Lng: 1}, Window: window(30, 120)},
		order("open", 0, -1, 0),
	}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, nil)
	require.NoError(t, err)
	require.Len(t, plan.Waypoints, 2)
	assert.Equal(t, "open", plan.Waypoints[0].OrderID)
	assert.Equal(t, "windowed", plan.Waypoints[1].OrderID)
	assert.InDelta(t, 3.0, plan.TotalDistanceKm, 1e-9)
	assert.InDelta(t, 30.0, plan.DurationMinutes, 1e-9)
}

func TestSequenceRejectsInvalidConstraints(t *testing.T) {
	p, _ := newTestPlanner()
	orders := []model.Order{order("a", 0, 3, 0)}

	neg := -1.0
	_, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, &model.Constraints{MaxDistanceKm: &neg})
	assert.ErrorIs(t, err, ErrInvalidConstraints)

	tooSmall := 1.0 // shortest reachable leg is 3
	_, err = p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, &model.Constraints{MaxDistanceKm: &tooSmall})
	assert.ErrorIs(t, err, ErrInvalidConstraints)

	inverted := &model.Constraints{TimeWindows: map[string]model.TimeWindow{
		"a": {Earliest: addMinutes(depart, 60), Latest: depart},
	}}
	_, err = p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, inverted)
	assert.ErrorIs(t, err, ErrInvalidConstraints)
}

func TestSequenceHonorsDistanceBudget(t *testing.T) {
	p, _ := newTestPlanner()
	budget := 4.0
	orders := []model.Order{order("near", 0, 1, 0), order("mid", 0, 2, 0), order("far", 0, 10, 0)}

	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, orders, &model.Constraints{MaxDistanceKm: &budget})
	require.NoError(t, err)
	assert.LessOrEqual(t, plan.TotalDistanceKm, budget)
	require.Len(t, plan.Unassigned, 1)
	assert.Equal(t, "far", plan.Unassigned[0].OrderID)
	assert.Equal(t, model.ViolationDistanceBudget, plan.Unassigned[0].Reason)
}

func TestSequenceCancelledContextStillReturnsPlan(t *testing.T) {
	p, _ := newTestPlanner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	orders := []model.Order{order("a", 0, 1, 0), order("b", 0, 2, 0), order("c", 0, 3, 0)}

	plan, err := p.SequenceVehicle(ctx, model.Vehicle{ID: "v1"}, depart, orders, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Waypoints, 3)
}

func TestSequenceEmptyOrderList(t *testing.T) {
	p, _ := newTestPlanner()
	plan, err := p.SequenceVehicle(context.Background(), model.Vehicle{ID: "v1"}, depart, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Waypoints)
	assert.Zero(t, plan.TotalDistanceKm)
}
