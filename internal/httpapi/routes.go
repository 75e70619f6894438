package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/plantops/maintwatch/internal/alerting"
	"github.com/plantops/maintwatch/internal/config"
	"github.com/plantops/maintwatch/internal/observ"
	"github.com/plantops/maintwatch/internal/store"
)

// API is the HTTP surface over the alert pipeline.
type API struct {
	engine    *alerting.Engine
	lifecycle *alerting.LifecycleManager
	store     store.Store
	cfg       config.Server
}

func New(engine *alerting.Engine, lifecycle *alerting.LifecycleManager, st store.Store, cfg config.Server) *API {
	return &API{engine: engine, lifecycle: lifecycle, store: st, cfg: cfg}
}

// Router builds the chi routing tree with CORS and request limiting.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if a.cfg.RateLimitPerMinute > 0 {
		r.Use(requestLimit(a.cfg.RateLimitPerMinute))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/samples", a.handleSubmitSample)

		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/statistics", a.handleAlertStatistics)
		r.Post("/alerts/{id}/acknowledge", a.handleAcknowledge)
		r.Post("/alerts/{id}/start", a.handleStartWork)
		r.Post("/alerts/{id}/resolve", a.handleResolve)

		r.Get("/logs", a.handleListLogs)

		r.Get("/machines/{id}/forecast", a.handleForecast)
		r.Get("/machines/{id}/windows", a.handleWindowStatus)
		r.Get("/machines/{id}/trend", a.handlePredictionTrend)

		r.Post("/failures", a.handleRecordFailure)
		r.Get("/metrics/predictions", a.handlePredictionMetrics)
	})

	r.Method(http.MethodGet, "/healthz", observ.HealthHandler())
	r.Method(http.MethodGet, "/metrics", observ.Handler())

	return r
}

// requestLimit applies a process-wide token bucket to incoming
// requests. Sensor gateways batch their submissions, so a single
// bucket is enough to shield the pipeline from a misbehaving client.
func requestLimit(perMinute int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				observ.IncCounter("http_requests_limited_total", nil)
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
