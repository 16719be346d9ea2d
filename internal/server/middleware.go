// Provides request logging, metrics and CORS middleware.

package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/maruel/ksid"
	"github.com/rs/cors"

	"github.com/maruel/steplog/internal/metrics"
	"github.com/maruel/steplog/internal/server/ipgeo"
	"github.com/maruel/steplog/internal/server/reqctx"
	"github.com/maruel/steplog/internal/storage"
)

// statusWriter records the status code sent to the client.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// requestLogger tags each request with an ID and client metadata, then logs
// and counts it once served.
func requestLogger(next http.Handler, geo *ipgeo.Checker, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := ksid.NewID()
		ip := reqctx.GetClientIP(r)
		country := geo.CountryCode(ip)

		ctx := reqctx.WithRequestID(r.Context(), id)
		ctx = reqctx.WithClientIP(ctx, ip)
		ctx = reqctx.WithUserAgent(ctx, r.UserAgent())
		ctx = reqctx.WithCountryCode(ctx, country)

		w.Header().Set("X-Request-ID", id.String())
		sw := &statusWriter{ResponseWriter: w}
		r2 := r.WithContext(ctx)
		next.ServeHTTP(sw, r2)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		// ServeMux records the matched pattern on the request it was given.
		route := r2.Pattern
		if route == "" {
			route = "unmatched"
		}
		d := time.Since(start)
		m.ObserveRequest(r.Method, route, status, d)
		slog.InfoContext(ctx, "http",
			"rid", id.String(),
			"m", r.Method,
			"path", r.URL.Path,
			"s", status,
			"dur", d.Round(time.Microsecond),
			"size", sw.bytes,
			"ip", ip,
			"cc", country,
		)
	})
}

// corsHandler allows browsers on the configured origins to call the API.
func corsHandler(cfg storage.CORSConfig, next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{
			"X-Request-ID",
			"Retry-After",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		MaxAge: 600,
	}).Handler(next)
}
