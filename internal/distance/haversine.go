package distance

import (
	"context"
	"math"

	"gasroute/internal/model"
)

// Haversine estimates straight-line travel metrics. It is a degraded mode:
// every matrix it produces is flagged, and it is only selected by explicit
// configuration, never as a silent fallback.
type Haversine struct {
	// SpeedKph converts distance to duration.
	SpeedKph float64
}

func NewHaversine(speedKph float64) *Haversine {
	if speedKph <= 0 {
		speedKph = 40
	}
	return &Haversine{SpeedKph: speedKph}
}

func (h *Haversine) Matrix(_ context.Context, points []model.Coordinate) (*Matrix, error) {
	m := newMatrix(len(points), true)
	for i := range points {
		for j := range points {
			if i == j {
				continue
			}
			km := haversineKm(points[i], points[j])
			m.Distances[i][j] = km
			m.Durations[i][j] = km / h.SpeedKph * 60
		}
	}
	return m, nil
}

func haversineKm(a, b model.Coordinate) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}
