package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	licenseErrors "licensor/internal/errors"
	"licensor/internal/telemetry"
)

const (
	defaultTelemetryLimit = 500
	maxTelemetryLimit     = 10000

	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// TelemetryHandler exposes the local event log for support staff
type TelemetryHandler struct {
	source       telemetry.Source
	errorHandler *licenseErrors.ErrorHandler
	logger       *slog.Logger
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(source telemetry.Source, logger *slog.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		source:       source,
		errorHandler: licenseErrors.NewErrorHandler(logger, false),
		logger:       logger.With(slog.String("handler", "telemetry")),
	}
}

// Routes returns a chi router for telemetry endpoints
func (h *TelemetryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetEvents)
	return r
}

// GetEvents handles GET /license/telemetry?limit=N&format=json|csv|xlsx
func (h *TelemetryHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultTelemetryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxTelemetryLimit {
			h.errorHandler.HandleError(w, r, licenseErrors.InvalidRequestWithError("limit"))
			return
		}
		limit = n
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" && format != "xlsx" {
		h.errorHandler.HandleError(w, r, licenseErrors.InvalidRequestWithError("format"))
		return
	}

	events, err := h.source.Events(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read telemetry", slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, licenseErrors.ErrServiceUnavailable)
		return
	}
	if events == nil {
		events = []telemetry.Event{}
	}

	filename := fmt.Sprintf("licensor-telemetry-%s", time.Now().UTC().Format("20060102-150405"))

	var buf bytes.Buffer
	switch format {
	case "json":
		render.JSON(w, r, events)
		return
	case "csv":
		if err := telemetry.ExportCSV(&buf, events, true); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		filename += ".csv"
	case "xlsx":
		if err := telemetry.ExportXLSX(&buf, events); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", contentTypeXLSX)
		filename += ".xlsx"
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
