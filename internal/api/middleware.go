package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gasroute/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LogMiddleware logs each request and records the HTTP metrics. Route IDs are
// collapsed out of the metric path label to keep cardinality bounded.
func LogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)

		path := metricPath(r.URL.Path)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
	})
}

func metricPath(p string) string {
	if rest, ok := strings.CutPrefix(p, "/v1/routes/"); ok && rest != "" {
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 2 {
			return "/v1/routes/{id}/" + parts[1]
		}
		return "/v1/routes/{id}"
	}
	if rest, ok := strings.CutPrefix(p, "/v1/subscriptions/"); ok && rest != "" {
		return "/v1/subscriptions/{id}"
	}
	return p
}
