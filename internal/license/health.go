package license

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"licensor/internal/infrastructure"
	"licensor/internal/storage"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// StoreInspector reports per-location state without validating
type StoreInspector interface {
	Health(ctx context.Context) []storage.LocationHealth
}

// HealthCheck reports the health of the activation, its storage locations
// and the fingerprint signals. It never changes license state.
type HealthCheck struct {
	manager      *Manager
	store        StoreInspector
	fingerprints FingerprintSource
	timeout      time.Duration
}

// NewHealthCheck creates a health check. store and fingerprints may be nil.
func NewHealthCheck(manager *Manager, store StoreInspector, fingerprints FingerprintSource) *HealthCheck {
	return &HealthCheck{
		manager:      manager,
		store:        store,
		fingerprints: fingerprints,
		timeout:      5 * time.Second,
	}
}

// HealthCheckResult contains the aggregated health
type HealthCheckResult struct {
	OverallStatus HealthStatus                `json:"status"`
	Message       string                      `json:"message"`
	Timestamp     time.Time                   `json:"timestamp"`
	Duration      string                      `json:"duration"`
	TraceID       string                      `json:"trace_id"`
	Components    map[string]*ComponentHealth `json:"components"`
	Summary       *HealthSummary              `json:"summary"`
}

// HealthSummary provides aggregated health metrics
type HealthSummary struct {
	TotalComponents     int     `json:"total_components"`
	HealthyComponents   int     `json:"healthy_components"`
	DegradedComponents  int     `json:"degraded_components"`
	UnhealthyComponents int     `json:"unhealthy_components"`
	OverallScore        float64 `json:"overall_score"`
}

// PerformHealthCheck runs every component check concurrently
func (hc *HealthCheck) PerformHealthCheck(ctx context.Context) *HealthCheckResult {
	ctx, span := startSpan(ctx, "license.health_check")
	defer span.End()

	start := time.Now()
	result := &HealthCheckResult{
		Timestamp:  start,
		Components: make(map[string]*ComponentHealth),
		TraceID:    infrastructure.TraceIDFromContext(ctx),
	}

	checks := map[string]func(context.Context) *ComponentHealth{
		"license":     hc.checkLicense,
		"store":       hc.checkStore,
		"fingerprint": hc.checkFingerprint,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
			defer cancel()

			h := check(checkCtx)
			mu.Lock()
			result.Components[name] = h
			mu.Unlock()
		}()
	}
	wg.Wait()

	result.Summary = calculateHealthSummary(result.Components)
	result.OverallStatus = determineOverallStatus(result.Components)
	result.Duration = time.Since(start).String()
	result.Message = generateStatusMessage(result.OverallStatus, result.Summary)

	span.SetAttributes(
		attribute.String("health.overall_status", string(result.OverallStatus)),
		attribute.Int("health.total_components", result.Summary.TotalComponents),
		attribute.Float64("health.overall_score", result.Summary.OverallScore),
	)

	return result
}

func (hc *HealthCheck) checkLicense(ctx context.Context) *ComponentHealth {
	health := &ComponentHealth{Timestamp: time.Now(), Metadata: make(map[string]interface{})}
	if hc.manager == nil {
		health.Status = HealthStatusUnhealthy
		health.Message = "License manager not initialized"
		return health
	}

	info := hc.manager.Info()
	health.Metadata["license_status"] = string(info.Status)
	if info.GraceEndsAt != nil {
		health.Metadata["grace_ends_at"] = info.GraceEndsAt.UTC().Format(time.RFC3339)
	}

	switch {
	case info.Status == StatusActive:
		health.Status = HealthStatusHealthy
	case info.Status == StatusGracePeriod:
		health.Status = HealthStatusDegraded
	default:
		health.Status = HealthStatusUnhealthy
	}
	health.Message = info.Message
	return health
}

func (hc *HealthCheck) checkStore(ctx context.Context) *ComponentHealth {
	start := time.Now()
	health := &ComponentHealth{Timestamp: start, Metadata: make(map[string]interface{})}
	if hc.store == nil {
		health.Status = HealthStatusHealthy
		health.Message = "Store inspection not configured"
		return health
	}

	locations := hc.store.Health(ctx)
	health.Duration = time.Since(start).String()

	present, failed := 0, 0
	for _, l := range locations {
		switch {
		case l.Error != "":
			failed++
		case l.Present:
			present++
		}
	}
	health.Metadata["locations"] = locations
	health.Metadata["present"] = present

	switch {
	case len(locations) > 0 && failed == len(locations):
		health.Status = HealthStatusUnhealthy
		health.Message = "No license location is readable"
	case failed > 0 || (present > 0 && present < len(locations)):
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("%d of %d license locations hold the activation", present, len(locations))
	default:
		health.Status = HealthStatusHealthy
		health.Message = "All license locations consistent"
	}
	return health
}

func (hc *HealthCheck) checkFingerprint(ctx context.Context) *ComponentHealth {
	start := time.Now()
	health := &ComponentHealth{Timestamp: start, Metadata: make(map[string]interface{})}
	if hc.fingerprints == nil {
		health.Status = HealthStatusHealthy
		health.Message = "Fingerprint inspection not configured"
		return health
	}

	fp, err := hc.fingerprints.ComputeFingerprint(ctx)
	health.Duration = time.Since(start).String()
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = "No hardware signals readable"
		health.Error = err.Error()
		return health
	}

	signals := make([]string, 0, len(fp.Signals))
	for name := range fp.Signals {
		signals = append(signals, name)
	}
	sort.Strings(signals)
	health.Metadata["signals"] = signals
	health.Metadata["missing"] = fp.Missing

	if fp.Degraded {
		health.Status = HealthStatusDegraded
		health.Message = "Fingerprint uses fallback signals only"
		return health
	}
	health.Status = HealthStatusHealthy
	health.Message = "Fingerprint computed"
	return health
}

func calculateHealthSummary(components map[string]*ComponentHealth) *HealthSummary {
	summary := &HealthSummary{TotalComponents: len(components)}

	for _, health := range components {
		switch health.Status {
		case HealthStatusHealthy:
			summary.HealthyComponents++
		case HealthStatusDegraded:
			summary.DegradedComponents++
		case HealthStatusUnhealthy:
			summary.UnhealthyComponents++
		}
	}

	// healthy=1.0, degraded=0.5, unhealthy=0.0
	if summary.TotalComponents > 0 {
		score := float64(summary.HealthyComponents) + float64(summary.DegradedComponents)*0.5
		summary.OverallScore = score / float64(summary.TotalComponents)
	}
	return summary
}

func determineOverallStatus(components map[string]*ComponentHealth) HealthStatus {
	hasDegraded := false
	for _, health := range components {
		switch health.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

func generateStatusMessage(status HealthStatus, summary *HealthSummary) string {
	switch status {
	case HealthStatusHealthy:
		return fmt.Sprintf("All %d license components are healthy", summary.TotalComponents)
	case HealthStatusDegraded:
		return fmt.Sprintf("License operational with %d degraded components out of %d",
			summary.DegradedComponents, summary.TotalComponents)
	default:
		return fmt.Sprintf("License unhealthy: %d unhealthy, %d degraded out of %d components",
			summary.UnhealthyComponents, summary.DegradedComponents, summary.TotalComponents)
	}
}

// HTTPHandler serves the health result as JSON; unhealthy answers 503
func (hc *HealthCheck) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := hc.PerformHealthCheck(r.Context())

		statusCode := http.StatusOK
		if result.OverallStatus == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(result)
	}
}
