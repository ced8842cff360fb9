// Package api exposes the optimization engine and route lifecycle over HTTP:
// JSON endpoints, an SSE stream and a WebSocket feed per route, and webhook
// subscription management.
package api

import (
	"time"

	"gasroute/internal/config"
	"gasroute/internal/distance"
	"gasroute/internal/engine"
	"gasroute/internal/progress"
	"gasroute/internal/store"
	"gasroute/internal/webhooks"
)

type Server struct {
	Cfg       config.Config
	Store     store.Store
	Tracker   *progress.Tracker
	Pub       *webhooks.Publisher
	Broker    EventBroker
	Locations *LocationCache

	// provider is the configured distance source; each optimization run wraps
	// it in a fresh RunCache.
	provider distance.Provider
}

// NewServer wires the store, broker, and distance provider from config. With
// no DATABASE_URL the in-memory store is used; with no REDIS_URL events fan
// out in-process only.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if cfg.DatabaseURL == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sp.MigrateDir("db/migrations"); err != nil {
			return nil, err
		}
		s = sp
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		broker = rb
	} else {
		broker = NewBroker()
	}

	var provider distance.Provider
	if cfg.Provider.Mode == "http" {
		provider = distance.NewHTTPProvider(
			cfg.Provider.URL,
			cfg.Provider.APIKey,
			time.Duration(cfg.Provider.TimeoutMs)*time.Millisecond,
			cfg.Provider.RatePerSec,
			cfg.Provider.Burst,
		)
	} else {
		provider = distance.NewHaversine(cfg.Provider.SpeedKph)
	}

	return &Server{
		Cfg:       cfg,
		Store:     s,
		Tracker:   progress.New(),
		Pub:       webhooks.NewPublisher(s),
		Broker:    broker,
		Locations: NewLocationCache(),
		provider:  provider,
	}, nil
}

// planner builds a planner with a run-scoped distance cache. Travel metrics
// are time-dependent, so the cache never outlives one request.
func (s *Server) planner() (*engine.Planner, *distance.RunCache) {
	cache := distance.NewRunCache(s.provider)
	return &engine.Planner{
		Provider:          cache,
		ImprovementPasses: s.Cfg.Engine.ImprovementPasses,
		RebalancePasses:   s.Cfg.Engine.RebalancePasses,
		ServiceMinutes:    s.Cfg.Engine.ServiceMinutes,
	}, cache
}

// NewWebhookWorker creates the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhooks.MaxAttempts)
}

// defaultDepartAt resolves the departure time when a request omits it: the
// configured departure hour (UTC) on the scheduled date, or on today's date.
func (s *Server) defaultDepartAt(scheduledDate string, departAt time.Time) time.Time {
	if !departAt.IsZero() {
		return departAt.UTC()
	}
	day := time.Now().UTC()
	if scheduledDate != "" {
		if d, err := time.Parse("2006-01-02", scheduledDate); err == nil {
			day = d
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), s.Cfg.Engine.DepartureHour, 0, 0, 0, time.UTC)
}
