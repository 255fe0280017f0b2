package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"accounts/internal/platform/metrics"
	"accounts/internal/platform/middleware"
	"accounts/pkg/platform/httputil"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router mounts. Metrics and HealthChecks may be nil.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	JWTValidator   middleware.JWTValidator
	Registration   RegistrationService
	Auth           AuthService
	Profiles       ProfileService
	HealthChecks   map[string]HealthCheck
	RequestTimeout time.Duration
}

// NewRouter builds the chi router with the shared middleware chain.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.LatencyMiddleware(d.Metrics))

	r.Get("/health", healthHandler(d.HealthChecks))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(d.RequestTimeout))
		api.Use(middleware.ContentTypeJSON)
		NewAuthHandler(d.Registration, d.Auth, d.Logger, d.JWTValidator).Register(api)
		NewProfileHandler(d.Profiles, d.Logger, d.JWTValidator).Register(api)
		NewRegistrationHandler(d.Registration, d.Logger, d.JWTValidator).Register(api)
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
