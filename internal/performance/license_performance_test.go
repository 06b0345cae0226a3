package performance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/app"
	"licensor/internal/config"
	"licensor/internal/license"
	"licensor/internal/security"
	handlers "licensor/internal/transport/http"
)

// MaxValidationLatency bounds one validation pass under contention
const MaxValidationLatency = 250 * time.Millisecond

var ConcurrencyLevels = []int{1, 10, 50, 100}

var (
	keyOnce sync.Once
	keyPair *security.KeyPair
	keyErr  error
)

// vendorKey is generated once per test binary
func vendorKey(tb testing.TB) *security.KeyPair {
	tb.Helper()
	keyOnce.Do(func() { keyPair, keyErr = security.GenerateKeyPair(security.MinRSAKeyBits) })
	require.NoError(tb, keyErr)
	return keyPair
}

func fingerprints() *security.FingerprintProvider {
	return security.NewFingerprintProvider([]string{security.SignalCPU}, nil,
		security.WithSignalSources(security.StaticSignal(security.SignalCPU, "GenuineIntel-6-85")))
}

func machineID(tb testing.TB, fp *security.FingerprintProvider) string {
	tb.Helper()
	fingerprint, err := fp.ComputeFingerprint(context.Background())
	require.NoError(tb, err)
	return fingerprint.MachineID
}

func encodeLicense(tb testing.TB, id string) []byte {
	tb.Helper()
	expires := time.Now().Add(365 * 24 * time.Hour)
	data, err := license.Encode(license.NewPayload(id, time.Now(), &expires, []string{"reports", "payroll"}, "CUST-PERF"),
		vendorKey(tb), config.PayloadSecretBytes())
	require.NoError(tb, err)
	return data
}

// activatedCore returns a core with an active license on all three backends
func activatedCore(tb testing.TB) *app.Core {
	tb.Helper()
	dir := tb.TempDir()
	cfg := config.Default()
	cfg.Storage.SecureStore = false
	cfg.Storage.FilePaths = []string{
		filepath.Join(dir, "primary", config.LicenseFileName),
		filepath.Join(dir, "mirror", config.LicenseMirrorFileName),
	}
	cfg.Storage.DatabasePaths = []string{filepath.Join(dir, config.LicenseDBFileName)}
	cfg.Telemetry.Enabled = false

	fp := fingerprints()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core, err := app.NewCore(context.Background(), cfg, logger,
		app.WithPublicKey(vendorKey(tb).PublicKey), app.WithFingerprints(fp))
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = core.Close() })

	_, err = core.Manager.Activate(context.Background(), encodeLicense(tb, machineID(tb, fp)))
	require.NoError(tb, err)
	return core
}

func BenchmarkEncode(b *testing.B) {
	kp := vendorKey(b)
	expires := time.Now().Add(time.Hour)
	payload := license.NewPayload("bench-machine", time.Now(), &expires, []string{"reports"}, "CUST-PERF")
	secret := config.PayloadSecretBytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := license.Encode(payload, kp, secret); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeVerifyOpen(b *testing.B) {
	data := encodeLicense(b, "bench-machine")
	pub := vendorKey(b).PublicKey
	secret := config.PayloadSecretBytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl, err := license.Decode(data)
		if err != nil {
			b.Fatal(err)
		}
		if err := sl.Verify(pub); err != nil {
			b.Fatal(err)
		}
		if _, err := sl.Open("bench-machine", secret); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkValidateNow(b *testing.B) {
	core := activatedCore(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if status := core.Manager.ValidateNow(ctx); status != license.StatusActive {
			b.Fatalf("status %s", status)
		}
	}
}

func BenchmarkValidateNowParallel(b *testing.B) {
	core := activatedCore(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			core.Manager.ValidateNow(ctx)
		}
	})
}

func BenchmarkHasFeature(b *testing.B) {
	core := activatedCore(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			core.Manager.HasFeature("reports")
		}
	})
}

func BenchmarkStatusEndpoint(b *testing.B) {
	core := activatedCore(b)
	router := handlers.NewRouter(handlers.RouterDeps{
		License: core.Manager,
		Health:  core.Health.HTTPHandler(),
		Timeout: 5 * time.Second,
		Logger:  core.Logger,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/license/status", nil)
		req.RemoteAddr = "127.0.0.1:50000"
		req.Host = "127.0.0.1:47615"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			b.Fatalf("status code %d", rec.Code)
		}
	}
}

func TestConcurrentValidationLatency(t *testing.T) {
	if testing.Short() {
		t.Skip("latency test skipped in short mode")
	}
	core := activatedCore(t)

	for _, workers := range ConcurrencyLevels {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				slowest  time.Duration
				statuses = make(map[license.Status]int)
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					start := time.Now()
					status := core.Manager.ValidateNow(context.Background())
					elapsed := time.Since(start)

					mu.Lock()
					defer mu.Unlock()
					statuses[status]++
					if elapsed > slowest {
						slowest = elapsed
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, map[license.Status]int{license.StatusActive: workers}, statuses)
			assert.Less(t, slowest, MaxValidationLatency*time.Duration(1+workers/50))
			t.Logf("workers=%d slowest=%s", workers, slowest)
		})
	}
}
