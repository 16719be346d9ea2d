// Package server implements the HTTP server and routing logic.
package server

import (
	"context"
	"net/http"

	"github.com/maruel/steplog/internal/metrics"
	"github.com/maruel/steplog/internal/server/bandwidth"
	"github.com/maruel/steplog/internal/server/handlers"
	"github.com/maruel/steplog/internal/server/ipgeo"
	"github.com/maruel/steplog/internal/server/ratelimit"
	"github.com/maruel/steplog/internal/storage"
)

// Config holds everything the router needs besides the store.
type Config struct {
	ServerConfig *storage.ServerConfig
	Version      string
	IPGeo        *ipgeo.Checker   // optional
	Metrics      *metrics.Metrics // created when nil
}

// NewRouter creates and configures the HTTP router.
//
// The GET /steps contract follows store.View(). Background rate limiter
// cleanup stops when ctx is canceled.
func NewRouter(ctx context.Context, store *storage.StepStore, cfg *Config) http.Handler {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	rl := cfg.ServerConfig.RateLimits
	limiters := ratelimit.NewConfig(rl.WriteRatePerMin, rl.ReadRatePerMin)
	context.AfterFunc(ctx, limiters.Close)

	sh := handlers.NewStepsHandler(store, m, cfg.ServerConfig.Quotas.MaxSamplesPerBatch)
	hh := handlers.NewHealthHandler(cfg.Version)

	mux := &http.ServeMux{}
	mux.Handle("GET /health", Wrap(hh.Health, cfg, limiters))

	mux.Handle("POST /steps", Wrap(sh.SaveSteps, cfg, limiters))
	egress := bandwidth.NewLimiter(cfg.ServerConfig.Quotas.MaxEgressBytesPerSec)
	switch store.View() {
	case storage.StepsViewCount:
		mux.Handle("GET /steps", bandwidth.Handler(egress, Wrap(sh.CountSteps, cfg, limiters)))
	default:
		mux.Handle("GET /steps", bandwidth.Handler(egress, Wrap(sh.ListSteps, cfg, limiters)))
	}
	mux.Handle("DELETE /steps", Wrap(sh.DeleteSteps, cfg, limiters))

	mux.Handle("GET /metrics", m.Handler())

	return requestLogger(corsHandler(cfg.ServerConfig.CORS, mux), cfg.IPGeo, m)
}
