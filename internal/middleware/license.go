package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "licensor/internal/errors"
	"licensor/internal/license"
)

// TypeFeatureNotLicensed is the problem type for a missing feature flag
const TypeFeatureNotLicensed = "/errors/license/feature-not-licensed"

// LicenseChecker is the part of the license manager the gate needs
type LicenseChecker interface {
	GetStatus(ctx context.Context) license.Status
	HasFeature(name string) bool
}

// LicenseGate guards host application routes behind the activation status.
// It reads the manager's cached status and never triggers validation beyond
// the first lazy pass.
type LicenseGate struct {
	checker   LicenseChecker
	logger    *slog.Logger
	decisions metric.Int64Counter
}

// NewLicenseGate creates a gate backed by checker
func NewLicenseGate(checker LicenseChecker, logger *slog.Logger) *LicenseGate {
	decisions, _ := otel.Meter("licensor.middleware").Int64Counter(
		"license_gate_decisions_total",
		metric.WithDescription("License gate decisions by result"),
	)
	return &LicenseGate{
		checker:   checker,
		logger:    logger.With(slog.String("component", "license_gate")),
		decisions: decisions,
	}
}

// RequireLicense admits requests only while the license is usable
func (g *LicenseGate) RequireLicense(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := g.checker.GetStatus(r.Context())
		if !status.Usable() {
			g.record(r.Context(), "denied", "")
			g.logger.InfoContext(r.Context(), "request blocked by license status",
				slog.String("path", r.URL.Path),
				slog.String("license_status", string(status)))

			problem := apierrors.NewCategoryProblem(status.Category(), middleware.GetReqID(r.Context()))
			problem.WithExtension("license_status", string(status))
			_ = render.Render(w, r, problem)
			return
		}
		g.record(r.Context(), "allowed", "")
		next.ServeHTTP(w, r)
	})
}

// RequireFeature admits requests only when feature is licensed and usable
func (g *LicenseGate) RequireFeature(feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.RequireLicense(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.checker.HasFeature(feature) {
				g.record(r.Context(), "feature_denied", feature)
				problem := apierrors.NewProblemDetails(
					http.StatusForbidden,
					TypeFeatureNotLicensed,
					"Feature Not Licensed",
					"Your license does not include this feature. Contact the vendor to upgrade.",
					r.URL.Path,
				).WithExtension("feature", feature).
					WithExtension("trace_id", middleware.GetReqID(r.Context()))
				_ = render.Render(w, r, problem)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (g *LicenseGate) record(ctx context.Context, result, feature string) {
	if g.decisions == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("result", result)}
	if feature != "" {
		attrs = append(attrs, attribute.String("feature", feature))
	}
	g.decisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}
