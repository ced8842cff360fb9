package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"gasroute/internal/distance"
	"gasroute/internal/engine"
	"gasroute/internal/progress"
	"gasroute/internal/store"
)

// Problem is an RFC 7807 problem-details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, engine.ErrInvalidConstraints):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid constraints", err.Error(), r.URL.Path)
	case errors.Is(err, engine.ErrUnknownOrder):
		writeProblem(w, http.StatusUnprocessableEntity, "Unknown order", err.Error(), r.URL.Path)
	case errors.Is(err, distance.ErrProviderUnavailable):
		writeProblem(w, http.StatusServiceUnavailable, "Distance provider unavailable", err.Error(), r.URL.Path)
	case errors.Is(err, progress.ErrTerminalRoute):
		writeProblem(w, http.StatusConflict, "Route is terminal", err.Error(), r.URL.Path)
	case errors.Is(err, progress.ErrUnknownWaypoint), errors.Is(err, progress.ErrBadEvent):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid event", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
	}
}
