package engine

import (
	"fmt"
	"time"

	"gasroute/internal/model"
)

// Stop is the computed schedule entry for one visited order.
type Stop struct {
	Order       model.Order
	Arrival     time.Time
	Departure   time.Time
	WaitMinutes float64
	LegKm       float64
}

// Schedule is the result of evaluating one candidate sequence. It is valid
// even when infeasible; Violations carries every breach found.
type Schedule struct {
	Stops           []Stop
	TotalDistanceKm float64
	DurationMinutes float64
	TotalLoad       float64
	Violations      []model.Violation
}

func (s *Schedule) Feasible() bool { return len(s.Violations) == 0 }

// maxLatenessMinutes is the worst time-window overshoot across all stops,
// zero for a feasible schedule. Used to break ties between equally infeasible
// candidates.
func (s *Schedule) maxLatenessMinutes(cons *model.Constraints) float64 {
	worst := 0.0
	for _, st := range s.Stops {
		w := cons.Window(st.Order)
		if w == nil || !st.Arrival.After(w.Latest) {
			continue
		}
		if late := st.Arrival.Sub(w.Latest).Minutes(); late > worst {
			worst = late
		}
	}
	return worst
}

// checkSequence is the single source of truth for route feasibility. It walks
// the sequence once: arrival at a stop is the previous departure plus travel
// time, the vehicle waits out an early arrival, and departure is arrival plus
// service time. It never mutates its inputs and takes no locks.
//
// Capacity is checked once against the whole sequence: partial deliveries and
// mid-route restocking are not modeled.
func checkSequence(seq []model.Order, veh model.Vehicle, departAt time.Time, cons *model.Constraints, tr *travelTable) Schedule {
	s := Schedule{Stops: make([]Stop, 0, len(seq))}

	for _, o := range seq {
		s.TotalLoad += o.TotalDemand()
	}
	if veh.Capacity > 0 && s.TotalLoad > veh.Capacity {
		s.Violations = append(s.Violations, model.Violation{
			Type:   model.ViolationCapacity,
			Seq:    -1,
			Detail: fmt.Sprintf("total demand %.1f exceeds vehicle capacity %.1f", s.TotalLoad, veh.Capacity),
		})
	}

	prevID := ""
	at := departAt
	for i, o := range seq {
		km, min := tr.leg(prevID, o.ID)
		arrival := addMinutes(at, min)
		wait := 0.0
		if w := cons.Window(o); w != nil {
			if arrival.Before(w.Earliest) {
				wait = w.Earliest.Sub(arrival).Minutes()
				arrival = w.Earliest
			}
			if arrival.After(w.Latest) {
				s.Violations = append(s.Violations, model.Violation{
					Type:    model.ViolationTimeWindow,
					OrderID: o.ID,
					Seq:     i,
					Detail:  fmt.Sprintf("arrival %s is after window end %s", arrival.Format(time.RFC3339), w.Latest.Format(time.RFC3339)),
				})
			}
		}
		departure := addMinutes(arrival, o.ServiceMinutes)
		s.Stops = append(s.Stops, Stop{Order: o, Arrival: arrival, Departure: departure, WaitMinutes: wait, LegKm: km})
		s.TotalDistanceKm += km
		at = departure
		prevID = o.ID
	}
	if len(s.Stops) > 0 {
		s.DurationMinutes = s.Stops[len(s.Stops)-1].Departure.Sub(departAt).Minutes()
	}

	s.Violations = append(s.Violations, priorityViolations(seq, cons)...)

	if cons != nil && cons.MaxDistanceKm != nil && s.TotalDistanceKm > *cons.MaxDistanceKm {
		s.Violations = append(s.Violations, model.Violation{
			Type:   model.ViolationDistanceBudget,
			Seq:    -1,
			Detail: fmt.Sprintf("total distance %.2f km exceeds budget %.2f km", s.TotalDistanceKm, *cons.MaxDistanceKm),
		})
	}
	if cons != nil && cons.MaxDurationMinutes != nil && s.DurationMinutes > *cons.MaxDurationMinutes {
		s.Violations = append(s.Violations, model.Violation{
			Type:   model.ViolationDurationBudget,
			Seq:    -1,
			Detail: fmt.Sprintf("total duration %.1f min exceeds budget %.1f min", s.DurationMinutes, *cons.MaxDurationMinutes),
		})
	}
	return s
}

// priorityViolations flags priority orders placed too late. With an explicit
// window K, a priority order must sit in the first K positions; with no window
// it must precede every non-priority order.
func priorityViolations(seq []model.Order, cons *model.Constraints) []model.Violation {
	if cons == nil {
		return nil
	}
	var out []model.Violation
	if k := cons.PriorityWindow; k > 0 {
		for i, o := range seq {
			if i >= k && cons.IsPriority(o) {
				out = append(out, model.Violation{
					Type:    model.ViolationPriorityOrder,
					OrderID: o.ID,
					Seq:     i,
					Detail:  fmt.Sprintf("priority order at position %d, outside the first %d stops", i, k),
				})
			}
		}
		return out
	}
	seenPlain := -1
	for i, o := range seq {
		if cons.IsPriority(o) {
			if seenPlain >= 0 {
				out = append(out, model.Violation{
					Type:    model.ViolationPriorityOrder,
					OrderID: o.ID,
					Seq:     i,
					Detail:  fmt.Sprintf("priority order sequenced after non-priority stop at position %d", seenPlain),
				})
			}
		} else {
			if seenPlain < 0 {
				seenPlain = i
			}
		}
	}
	return out
}
