package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/smartpark/sentinel/internal/config"
	"github.com/smartpark/sentinel/internal/database"
	"github.com/smartpark/sentinel/internal/events"
	"github.com/smartpark/sentinel/internal/floors"
	"github.com/smartpark/sentinel/internal/monitoring"
	"github.com/smartpark/sentinel/internal/ratelimit"
)

// Deps bundles the services the router wires into handlers.
type Deps struct {
	DB                *database.DB
	Events            *events.Service
	Floors            *floors.Service
	Monitoring        *monitoring.State
	Config            *config.BackendConfig
	IdempotencyWindow time.Duration
}

// NewRouter builds the backend's HTTP router: chi middleware stack, CORS,
// API-key auth, per-client rate limiting, and every route named in the
// external interfaces contract.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(recordMetrics(deps.Monitoring))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   deps.Config.CORS.AllowedMethods,
		AllowedHeaders:   deps.Config.CORS.AllowedHeaders,
		AllowCredentials: true,
		MaxAge:           300,
	}))

	limiter := ratelimit.NewSlidingWindow(deps.Config.API.RateLimit, time.Duration(deps.Config.API.RateLimitWindowSecs)*time.Second)
	r.Use(APIKeyAuth(deps.Config.API.Keys))
	r.Use(RateLimit(limiter))

	r.Get("/", handleRoot())
	r.Get("/health", handleHealth(deps.DB))
	r.Get("/health/live", handleHealthLive())
	r.Get("/health/ready", handleHealthReady(deps.DB))

	r.Post("/event", handleCreateEvent(deps.Events, deps.IdempotencyWindow))
	r.Get("/floors", handleListFloors(deps.Floors))
	r.Get("/floors/{id}", handleGetFloor(deps.Floors))
	r.Get("/recommend", handleRecommend(deps.Floors))
	r.Get("/events", handleListEvents(deps.Events))
	r.Get("/monitoring/metrics", handleMonitoringMetrics(deps.Monitoring))
	r.Get("/monitoring/alerts", handleMonitoringAlerts(deps.Monitoring, deps.Floors, deps.Config.Monitoring.LowAvailabilitySlots))
	r.Get("/camera/latest-frame", handleLatestFrame(deps.Config.VisionFrame.Dir))

	return r
}

// recordMetrics feeds every completed request into the monitoring
// aggregator so /monitoring/metrics and /monitoring/alerts reflect live
// traffic.
func recordMetrics(mon *monitoring.State) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			mon.RecordRequest(monitoring.Record{
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: ww.Status(),
				DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			})
		})
	}
}
