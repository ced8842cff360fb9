package api

import (
	"strings"
	"sync"
	"time"
)

// LatestLocation is the newest known position of a driver on a route.
type LatestLocation struct {
	RouteID  string    `json:"routeId"`
	DriverID string    `json:"driverId"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	TS       time.Time `json:"ts"`
}

// LocationCache keeps the latest driver position per route. Purely in-memory;
// positions are ephemeral and rebuilt from the event stream after a restart.
type LocationCache struct {
	mu sync.Mutex
	m  map[string]LatestLocation // routeId|driverId
}

func NewLocationCache() *LocationCache {
	return &LocationCache{m: map[string]LatestLocation{}}
}

// Upsert stores a position, keeping only the newest per driver.
func (c *LocationCache) Upsert(routeID, driverID string, lat, lng float64, ts time.Time) {
	if routeID == "" || driverID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := routeID + "|" + driverID
	if cur, ok := c.m[k]; ok && ts.Before(cur.TS) {
		return
	}
	c.m[k] = LatestLocation{RouteID: routeID, DriverID: driverID, Lat: lat, Lng: lng, TS: ts}
}

// ListByRoute returns the latest known positions for a route's drivers.
func (c *LocationCache) ListByRoute(routeID string) []LatestLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []LatestLocation{}
	prefix := routeID + "|"
	for k, v := range c.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, v)
		}
	}
	return out
}
