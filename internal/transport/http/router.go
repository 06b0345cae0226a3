package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	licenseErrors "licensor/internal/errors"
	customMiddleware "licensor/internal/middleware"
	"licensor/internal/telemetry"
	ws "licensor/internal/websocket"
)

// API rate limit for the loopback API as a whole. Activation has its own
// limiter inside the license manager.
const (
	apiRequestsPerSecond = 20
	apiBurst             = 40
)

// RouterDeps carries everything the loopback API serves
type RouterDeps struct {
	License   LicenseService
	Hub       *ws.Hub
	Telemetry telemetry.Source
	Health    http.Handler
	Metrics   http.Handler
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewRouter builds the loopback license API
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errorHandler := licenseErrors.NewErrorHandler(logger, false)

	r := chi.NewRouter()

	// These do not wrap the ResponseWriter, so the websocket route is safe
	r.Use(middleware.RequestID)
	r.Use(customMiddleware.LoopbackOnly(logger))
	r.Use(customMiddleware.LocalRequestsOnly(logger))
	r.Use(licenseErrors.NewErrorMiddleware(errorHandler, logger).Handler)
	r.Use(customMiddleware.SecurityHeaders)

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	if deps.Hub != nil {
		r.Method(http.MethodGet, "/license/events", NewEventsHandler(deps.Hub, deps.License, logger))
	}

	r.Group(func(r chi.Router) {
		if otelMiddleware, err := customMiddleware.NewOTelMiddleware(); err != nil {
			logger.Error("failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}
		r.Use(customMiddleware.NewRateLimiter(apiRequestsPerSecond, apiBurst, logger).Handler)
		if deps.Timeout > 0 {
			r.Use(customMiddleware.Timeout(deps.Timeout, logger))
		}
		r.Use(render.SetContentType(render.ContentTypeJSON))

		licenseHandler := NewLicenseHandler(deps.License, logger)
		r.Mount("/license", licenseHandler.Routes())

		if deps.Telemetry != nil {
			r.Mount("/license/telemetry", NewTelemetryHandler(deps.Telemetry, logger).Routes())
		}
		if deps.Health != nil {
			r.Handle("/healthz", deps.Health)
		}
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	return r
}
