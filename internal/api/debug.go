package api

import (
	"net/http"
	"time"

	"gasroute/internal/buildinfo"
)

// DebugJSON reports build and effective-config facts for operators. Secrets
// are reduced to presence booleans.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"listen":             s.Cfg.Listen,
			"providerMode":       s.Cfg.Provider.Mode,
			"hasProviderKey":     s.Cfg.Provider.APIKey != "",
			"hasDatabaseUrl":     s.Cfg.DatabaseURL != "",
			"hasRedisUrl":        s.Cfg.RedisURL != "",
			"improvementPasses":  s.Cfg.Engine.ImprovementPasses,
			"rebalancePasses":    s.Cfg.Engine.RebalancePasses,
			"optimizeTimeoutMs":  s.Cfg.Engine.OptimizeTimeoutMs,
			"webhookMaxAttempts": s.Cfg.Webhooks.MaxAttempts,
		},
	})
}
