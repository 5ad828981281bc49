package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-smartflow/internal/appointment"
	"github.com/hackgods/clinic-smartflow/internal/observability/metrics"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

type RouterConfig struct {
	Service     *appointment.Service
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Logger      *logging.Logger
	HTTPMetrics *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer // served on /metrics; nil disables it
	Clock       Clock
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	svc := cfg.Service

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.HTTPMetrics))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Appointment endpoints
	r.Post("/appointments", bookSlotHandler(svc, now))
	r.Post("/walk-ins", walkInHandler(svc, now))
	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", getAppointmentHandler(svc))
		r.Post("/check-in", checkInHandler(svc, now))
		r.Post("/resolve-conflict", resolveConflictHandler(svc, now))
		r.Post("/cancel", cancelHandler(svc, now))
		r.Post("/no-show", confirmNoShowHandler(svc, now))
		r.Post("/no-show/restore", restoreNoShowHandler(svc, now))
	})

	// Patient endpoints
	r.Post("/patients/{id}/reliability-events", reliabilityEventHandler(svc))
	r.Get("/patients/{id}/shadow-eligibility", shadowEligibilityHandler(svc))

	// Practitioner schedule and queue endpoints
	r.Route("/practitioners/{id}", func(r chi.Router) {
		r.Get("/slots", availableSlotsHandler(svc, now))
		r.Get("/slots/next", nextFreeSlotHandler(svc, now))
		r.Get("/queue", queueStatusHandler(svc, now))
		r.Post("/queue/reorder", reorderQueueHandler(svc, now))
		r.Post("/queue/next", callNextHandler(svc, now))
		r.Get("/drift", driftHandler(svc, now))
		r.Post("/compress", compressHandler(svc, now))
		r.Post("/shift", shiftHandler(svc, now))
		r.Post("/overdue", detectOverdueHandler(svc, now))
		r.Get("/absence-conflicts", conflictCountHandler(svc))
		r.Post("/absence-cancellations", cancelRangeHandler(svc, now))
	})

	return r
}
