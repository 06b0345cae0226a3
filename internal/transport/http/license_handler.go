package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensor/internal/config"
	licenseErrors "licensor/internal/errors"
	"licensor/internal/infrastructure"
	"licensor/internal/license"
)

// LicenseService is the part of the license manager the handlers use
type LicenseService interface {
	Activate(ctx context.Context, data []byte) (license.ActivationResult, error)
	ValidateNow(ctx context.Context) license.Status
	GetStatus(ctx context.Context) license.Status
	Deactivate(ctx context.Context) error
	HasFeature(name string) bool
	Info() license.Info
}

// LicenseHandler serves the loopback license API
type LicenseHandler struct {
	service      LicenseService
	errorHandler *licenseErrors.ErrorHandler
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:      service,
		errorHandler: licenseErrors.NewErrorHandler(logger, false),
		logger:       logger.With(slog.String("handler", "license")),
		tracer:       otel.Tracer("license-handler"),
	}
}

// FeatureResponse answers a feature query
type FeatureResponse struct {
	Feature  string         `json:"feature"`
	Licensed bool           `json:"licensed"`
	Status   license.Status `json:"status"`
}

// DeactivateResponse confirms a deactivation
type DeactivateResponse struct {
	Status    license.Status `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Post("/validate", h.Validate)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Get("/features/{name}", h.GetFeature)

	return r
}

// GetStatus handles GET /license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.status")
	defer span.End()

	status := h.service.GetStatus(ctx)
	span.SetAttributes(infrastructure.StatusAttribute(string(status)))

	render.JSON(w, r, h.service.Info())
}

// Validate handles POST /license/validate and forces a validation pass
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.validate")
	defer span.End()

	status := h.service.ValidateNow(ctx)
	span.SetAttributes(infrastructure.StatusAttribute(string(status)))

	h.logger.InfoContext(ctx, "validation requested",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("status", string(status)))

	render.JSON(w, r, h.service.Info())
}

// Activate handles POST /license/activate. The body is the license file,
// binary or armored.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.activate")
	defer span.End()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxLicenseFileSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			span.SetAttributes(attribute.String("error.type", "payload_too_large"))
			h.errorHandler.HandleError(w, r, licenseErrors.ErrPayloadTooLarge)
			return
		}
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, licenseErrors.InvalidRequestWithError("body"))
		return
	}
	span.SetAttributes(attribute.Int("license.file_size", len(data)))

	result, err := h.service.Activate(ctx, data)
	if err != nil {
		reqID := middleware.GetReqID(ctx)
		category := licenseErrors.CategoryOf(err)
		span.SetAttributes(attribute.String("license.result", string(category)))

		h.logger.WarnContext(ctx, "activation rejected",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))

		problem := licenseErrors.NewCategoryProblem(category, reqID)
		problem.Instance = r.URL.Path
		problem.WithExtension("license_status", string(h.service.Info().Status))
		_ = render.Render(w, r, problem)
		return
	}

	span.SetAttributes(
		attribute.String("license.result", "success"),
		infrastructure.StatusAttribute(string(result.Status)),
	)
	render.JSON(w, r, result)
}

// Deactivate handles POST /license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.deactivate")
	defer span.End()

	if err := h.service.Deactivate(ctx); err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, DeactivateResponse{
		Status:    license.StatusUnactivated,
		Message:   "License removed from this machine.",
		Timestamp: time.Now().UTC(),
	})
}

// GetFeature handles GET /license/features/{name}
func (h *LicenseHandler) GetFeature(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "license_handler.feature")
	defer span.End()

	name := chi.URLParam(r, "name")
	status := h.service.GetStatus(ctx)

	render.JSON(w, r, FeatureResponse{
		Feature:  name,
		Licensed: h.service.HasFeature(name),
		Status:   status,
	})
}

func (h *LicenseHandler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	return h.tracer.Start(r.Context(), name,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("component", "license_handler"),
		),
	)
}
