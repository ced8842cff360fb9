// Package config loads service configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	yaml "gopkg.in/yaml.v3"
)

type Provider struct {
	// Mode selects the distance adapter: "http" for the external maps matrix
	// API, "haversine" for the explicitly degraded straight-line estimator.
	Mode       string  `yaml:"mode"`
	URL        string  `yaml:"url"`
	APIKey     string  `yaml:"apiKey"`
	TimeoutMs  int     `yaml:"timeoutMs"`
	RatePerSec float64 `yaml:"ratePerSec"`
	Burst      int     `yaml:"burst"`
	// SpeedKph converts straight-line distance to duration in haversine mode.
	SpeedKph float64 `yaml:"speedKph"`
}

type Engine struct {
	ImprovementPasses int     `yaml:"improvementPasses"`
	RebalancePasses   int     `yaml:"rebalancePasses"`
	OptimizeTimeoutMs int     `yaml:"optimizeTimeoutMs"`
	ServiceMinutes    float64 `yaml:"serviceMinutes"` // default per-stop service time
	DepartureHour     int     `yaml:"departureHour"`  // default depart hour (UTC) when requests omit departAt
}

type Webhooks struct {
	MaxAttempts int `yaml:"maxAttempts"`
}

type Config struct {
	Listen      string   `yaml:"listen"`
	DatabaseURL string   `yaml:"databaseUrl"`
	RedisURL    string   `yaml:"redisUrl"`
	Provider    Provider `yaml:"provider"`
	Engine      Engine   `yaml:"engine"`
	Webhooks    Webhooks `yaml:"webhooks"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: ":8080",
		Provider: Provider{
			Mode:       "haversine",
			TimeoutMs:  5000,
			RatePerSec: 5,
			Burst:      2,
			SpeedKph:   40,
		},
		Engine: Engine{
			ImprovementPasses: 200,
			RebalancePasses:   3,
			OptimizeTimeoutMs: 10000,
			ServiceMinutes:    10,
			DepartureHour:     8,
		},
		Webhooks: Webhooks{MaxAttempts: 10},
	}
}

// Load reads the YAML file at path (if it exists) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("MAPS_PROVIDER_URL"); v != "" {
		c.Provider.URL = v
		c.Provider.Mode = "http"
	}
	if v := os.Getenv("MAPS_PROVIDER_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Webhooks.MaxAttempts = n
		}
	}
	if v := os.Getenv("OPTIMIZE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.OptimizeTimeoutMs = n
		}
	}
}

func (c *Config) validate() error {
	if c.Provider.Mode != "http" && c.Provider.Mode != "haversine" {
		return fmt.Errorf("config: unknown provider mode %q", c.Provider.Mode)
	}
	if c.Provider.Mode == "http" && c.Provider.URL == "" {
		return fmt.Errorf("config: provider mode http requires url")
	}
	if c.Engine.ImprovementPasses < 0 || c.Engine.RebalancePasses < 0 {
		return fmt.Errorf("config: engine pass caps must be >= 0")
	}
	if c.Engine.DepartureHour < 0 || c.Engine.DepartureHour > 23 {
		return fmt.Errorf("config: departureHour must be in [0,23]")
	}
	return nil
}
