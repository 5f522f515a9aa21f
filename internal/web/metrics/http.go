package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/httpx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HTTPMiddleware records request count and latency by route pattern. It must
// sit directly in front of the ServeMux: the mux fills in r.Pattern on the
// request it is handed, and that is what gets read afterwards.
func HTTPMiddleware(m Recorder) httpx.Middleware {
	if _, ok := m.(*NoopMetrics); ok {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			m.RecordHTTPRequest(r.Method, normalizeRoute(r.Pattern), sw.status, time.Since(start))
		})
	}
}

// normalizeRoute returns the matched pattern, or "unmatched" for 404s so
// random paths can't blow up label cardinality.
func normalizeRoute(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

func statusLabel(status int) string { return strconv.Itoa(status) }

type statusWriter struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
