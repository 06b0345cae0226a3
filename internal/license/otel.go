package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	licerrors "licensor/internal/errors"
	"licensor/internal/infrastructure"
)

const (
	TracerName = "license-manager"
	MeterName  = "license-manager"
)

// LicenseMetrics holds the license OpenTelemetry instruments
type LicenseMetrics struct {
	// Activation metrics
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	// Validation metrics
	ValidationAttempts metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	ValidationResults  metric.Int64Counter

	// State machine
	StatusTransitions     metric.Int64Counter
	GracePeriodsStarted   metric.Int64Counter
	FingerprintMismatches metric.Int64Counter

	// Security metrics
	SecurityEvents metric.Int64Counter
	RateLimitHits  metric.Int64Counter

	// Store
	StoreWriteFailures metric.Int64Counter
	LicenseFileSize    metric.Int64Histogram
}

// InitializeLicenseMetrics creates the license instruments on meter
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	metrics := &LicenseMetrics{}

	var err error

	metrics.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license import attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	metrics.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license imports"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	metrics.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of rejected license imports by category"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	metrics.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License import duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	metrics.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of validation passes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	metrics.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("Validation pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	metrics.ValidationResults, err = meter.Int64Counter(
		"license_validation_results_total",
		metric.WithDescription("Validation outcomes by resulting status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation results counter: %w", err)
	}

	metrics.StatusTransitions, err = meter.Int64Counter(
		"license_status_transitions_total",
		metric.WithDescription("Activation status transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create status transitions counter: %w", err)
	}

	metrics.GracePeriodsStarted, err = meter.Int64Counter(
		"license_grace_periods_started_total",
		metric.WithDescription("Hardware grace periods started"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grace period counter: %w", err)
	}

	metrics.FingerprintMismatches, err = meter.Int64Counter(
		"license_fingerprint_mismatches_total",
		metric.WithDescription("Validation passes where the machine fingerprint differed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint mismatch counter: %w", err)
	}

	metrics.SecurityEvents, err = meter.Int64Counter(
		"license_security_events_total",
		metric.WithDescription("Signature failures and tampered records"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security events counter: %w", err)
	}

	metrics.RateLimitHits, err = meter.Int64Counter(
		"license_rate_limit_hits_total",
		metric.WithDescription("Imports refused by the rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	metrics.StoreWriteFailures, err = meter.Int64Counter(
		"license_store_write_failures_total",
		metric.WithDescription("Activation record writes that reached no location"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store failure counter: %w", err)
	}

	metrics.LicenseFileSize, err = meter.Int64Histogram(
		"license_file_size_bytes",
		metric.WithDescription("Size of imported license files"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file size histogram: %w", err)
	}

	return metrics, nil
}

// newDefaultMetrics builds instruments on the global meter provider, which
// is a no-op until infrastructure.InitializeOTel installs one.
func newDefaultMetrics() *LicenseMetrics {
	m, err := InitializeLicenseMetrics(otel.Meter(MeterName))
	if err != nil {
		return nil
	}
	return m
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, status Status, err error) {
	span.SetAttributes(infrastructure.StatusAttribute(string(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *LicenseMetrics) recordActivation(ctx context.Context, result ActivationResult, duration time.Duration, size int) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	m.ActivationDuration.Record(ctx, duration.Seconds())
	m.LicenseFileSize.Record(ctx, int64(size))
	if result.Status == StatusActive {
		m.ActivationSuccess.Add(ctx, 1)
		return
	}
	m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", string(result.Category))))
	switch result.Category {
	case licerrors.CategorySignatureInvalid:
		m.SecurityEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "import_signature_invalid")))
	case licerrors.CategoryRateLimited:
		m.RateLimitHits.Add(ctx, 1)
	}
}

func (m *LicenseMetrics) recordValidation(ctx context.Context, status Status, duration time.Duration) {
	if m == nil {
		return
	}
	m.ValidationAttempts.Add(ctx, 1)
	m.ValidationDuration.Record(ctx, duration.Seconds())
	m.ValidationResults.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	if status == StatusTampered {
		m.SecurityEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "record_tampered")))
	}
}

func (m *LicenseMetrics) recordTransition(ctx context.Context, from, to Status) {
	if m == nil {
		return
	}
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to))))
	if to == StatusGracePeriod {
		m.GracePeriodsStarted.Add(ctx, 1)
	}
}

func (m *LicenseMetrics) recordMismatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.FingerprintMismatches.Add(ctx, 1)
}

func (m *LicenseMetrics) recordStoreFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.StoreWriteFailures.Add(ctx, 1)
}
