package license

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/shared/testutil"
	"licensor/internal/storage"
)

type healthFixture struct {
	mgr     *Manager
	store   *storage.Store
	primary *storage.MemoryBackend
	mirror  *storage.MemoryBackend
	fp      *fakeFingerprints
	clock   *testutil.FakeClock
}

func newHealthFixture(t *testing.T) *healthFixture {
	t.Helper()
	kp, _ := testKeys(t)
	logger, _ := testutil.NewTestLogger(t)

	f := &healthFixture{
		primary: storage.NewMemoryBackend("primary"),
		mirror:  storage.NewMemoryBackend("mirror"),
		fp:      newFakeFingerprints("M1"),
		clock:   testutil.NewFakeClock(managerStart),
	}
	store, err := storage.New([]storage.Backend{f.primary, f.mirror}, logger, storage.WithReadRetry(1, 0))
	require.NoError(t, err)
	f.store = store

	f.mgr, err = NewManager(Options{
		PublicKey:    kp.PublicKey,
		Secret:       testSecret,
		Store:        store,
		Fingerprints: f.fp,
		Clock:        f.clock,
		GracePeriod:  testGrace,
		Logger:       logger,
	})
	require.NoError(t, err)
	return f
}

func (f *healthFixture) activate(t *testing.T) {
	t.Helper()
	_, err := f.mgr.Activate(context.Background(), issue(t, "M1", managerStart.Add(-time.Hour), nil, "reports"))
	require.NoError(t, err)
}

func TestHealthCheckActive(t *testing.T) {
	f := newHealthFixture(t)
	f.activate(t)

	result := NewHealthCheck(f.mgr, f.store, f.fp).PerformHealthCheck(context.Background())

	assert.Equal(t, HealthStatusHealthy, result.OverallStatus)
	assert.Len(t, result.Components, 3)
	assert.Equal(t, 3, result.Summary.HealthyComponents)
	assert.InDelta(t, 1.0, result.Summary.OverallScore, 0.001)
	assert.Equal(t, "active", result.Components["license"].Metadata["license_status"])
}

func TestHealthCheckUnactivated(t *testing.T) {
	f := newHealthFixture(t)

	result := NewHealthCheck(f.mgr, f.store, f.fp).PerformHealthCheck(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, result.OverallStatus)
	assert.Equal(t, HealthStatusUnhealthy, result.Components["license"].Status)
}

func TestHealthCheckGracePeriodIsDegraded(t *testing.T) {
	f := newHealthFixture(t)
	f.activate(t)
	f.fp.set("M2")
	require.Equal(t, StatusGracePeriod, f.mgr.ValidateNow(context.Background()))

	result := NewHealthCheck(f.mgr, f.store, f.fp).PerformHealthCheck(context.Background())
	assert.Equal(t, HealthStatusDegraded, result.OverallStatus)
	assert.Contains(t, result.Components["license"].Metadata, "grace_ends_at")
}

func TestHealthCheckStoreLocations(t *testing.T) {
	f := newHealthFixture(t)
	f.activate(t)
	hc := NewHealthCheck(f.mgr, f.store, nil)

	require.NoError(t, f.mirror.Remove(context.Background()))
	store := hc.PerformHealthCheck(context.Background()).Components["store"]
	assert.Equal(t, HealthStatusDegraded, store.Status)
	assert.Equal(t, 1, store.Metadata["present"])

	f.primary.Fail = errors.New("io")
	f.mirror.Fail = errors.New("io")
	store = hc.PerformHealthCheck(context.Background()).Components["store"]
	assert.Equal(t, HealthStatusUnhealthy, store.Status)
}

func TestHealthCheckFingerprintFailure(t *testing.T) {
	f := newHealthFixture(t)
	f.activate(t)
	f.fp.fail(errors.New("no signals"))

	fp := NewHealthCheck(f.mgr, nil, f.fp).PerformHealthCheck(context.Background()).Components["fingerprint"]
	assert.Equal(t, HealthStatusUnhealthy, fp.Status)
	assert.Equal(t, "no signals", fp.Error)
}

func TestHealthHTTPHandler(t *testing.T) {
	f := newHealthFixture(t)
	handler := NewHealthCheck(f.mgr, f.store, f.fp).HTTPHandler()

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.activate(t)
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HealthCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthStatusHealthy, body.OverallStatus)
}

func TestCalculateHealthSummary(t *testing.T) {
	summary := calculateHealthSummary(map[string]*ComponentHealth{
		"a": {Status: HealthStatusHealthy},
		"b": {Status: HealthStatusDegraded},
		"c": {Status: HealthStatusUnhealthy},
		"d": {Status: HealthStatusHealthy},
	})
	assert.Equal(t, 4, summary.TotalComponents)
	assert.Equal(t, 2, summary.HealthyComponents)
	assert.InDelta(t, 0.625, summary.OverallScore, 0.001)
}
