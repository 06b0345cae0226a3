package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/app"
	"licensor/internal/config"
	licerrors "licensor/internal/errors"
	"licensor/internal/license"
	"licensor/internal/security"
	"licensor/internal/telemetry"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// fixture is a machine with static hardware signals and a test vendor key
type fixture struct {
	dir       string
	kp        *security.KeyPair
	machineID string
	opts      []Option
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	t.Setenv(config.EnvPrefix+"_CONFIG_FILE", "")
	t.Setenv(config.EnvPrefix+"_STORAGE_SECURE_STORE", "false")
	t.Setenv(config.EnvPrefix+"_STORAGE_FILE_PATHS", strings.Join([]string{
		filepath.Join(dir, "primary", config.LicenseFileName),
		filepath.Join(dir, "mirror", config.LicenseMirrorFileName),
	}, ","))
	t.Setenv(config.EnvPrefix+"_STORAGE_DATABASE_PATHS", filepath.Join(dir, "data", config.LicenseDBFileName))
	t.Setenv(config.EnvPrefix+"_TELEMETRY_DATABASE_PATH", filepath.Join(dir, config.TelemetryDBFileName))
	t.Setenv(config.EnvPrefix+"_LOGGING_FILE_PATH", filepath.Join(dir, "licensor.log"))
	t.Setenv(config.EnvPrefix+"_LICENSE_WATCH_STORAGE", "false")

	kp, err := security.GenerateKeyPair(security.MinRSAKeyBits)
	require.NoError(t, err)

	fp := security.NewFingerprintProvider([]string{security.SignalCPU}, nil,
		security.WithSignalSources(security.StaticSignal(security.SignalCPU, "GenuineIntel-6-85")))
	fingerprint, err := fp.ComputeFingerprint(context.Background())
	require.NoError(t, err)

	return &fixture{
		dir:       dir,
		kp:        kp,
		machineID: fingerprint.MachineID,
		opts: []Option{
			WithFingerprints(fp),
			WithCoreOptions(app.WithPublicKey(kp.PublicKey)),
		},
	}
}

func (f *fixture) run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	return f.runContext(context.Background(), t, stdin, args...)
}

func (f *fixture) runContext(ctx context.Context, t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := ExecuteContext(ctx, args, strings.NewReader(stdin), &stdout, &stderr, f.opts...)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// licenseFile issues a license for machineID and writes it to disk
func (f *fixture) licenseFile(t *testing.T, machineID string, features ...string) string {
	t.Helper()
	expires := time.Now().Add(365 * 24 * time.Hour)
	payload := license.NewPayload(machineID, time.Now(), &expires, features, "CUST-11")
	data, err := license.Encode(payload, f.kp, config.PayloadSecretBytes())
	require.NoError(t, err)

	path := filepath.Join(f.dir, payload.LicenseID+".lic")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestMachineID(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, "", "machine-id")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, f.machineID+"\n", res.stdout)

	res = f.run(t, "", "machine-id", "--verbose")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, f.machineID)
	assert.Contains(t, res.stdout, security.SignalCPU)
	assert.NotContains(t, res.stdout, "GenuineIntel", "raw signal values stay private")
}

func TestLicenseLifecycle(t *testing.T) {
	f := newFixture(t)
	file := f.licenseFile(t, f.machineID, "reports", "payroll")

	res := f.run(t, "", "validate")
	assert.Equal(t, licerrors.CategoryNotActivated.ExitCode(), res.code)
	assert.Contains(t, res.stdout, string(license.StatusUnactivated))

	res = f.run(t, "", "activate", file)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, string(license.StatusActive))
	assert.Contains(t, res.stdout, "payroll, reports")

	res = f.run(t, "", "status", "--json")
	require.Equal(t, 0, res.code, res.stderr)
	var info license.Info
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.Equal(t, license.StatusActive, info.Status)
	assert.Equal(t, "CUST-11", info.CustomerRef)
	assert.NotEqual(t, f.machineID, info.MachineID, "machine id is masked")

	res = f.run(t, "", "validate")
	assert.Equal(t, 0, res.code, res.stderr)

	res = f.run(t, "n\n", "deactivate")
	assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
	assert.Equal(t, 0, f.run(t, "", "validate").code)

	res = f.run(t, "", "deactivate", "--yes")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "License deactivated.")

	res = f.run(t, "", "status")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, string(license.StatusUnactivated))
}

func TestActivateFailures(t *testing.T) {
	f := newFixture(t)

	t.Run("other machine", func(t *testing.T) {
		res := f.run(t, "", "activate", f.licenseFile(t, "some-other-machine"))
		assert.Equal(t, licerrors.CategoryHardwareMismatch.ExitCode(), res.code)
		assert.Contains(t, res.stderr, string(licerrors.CategoryHardwareMismatch))
	})

	t.Run("not a license", func(t *testing.T) {
		junk := filepath.Join(f.dir, "junk.lic")
		require.NoError(t, os.WriteFile(junk, []byte("this is not a license file"), 0644))
		res := f.run(t, "", "activate", junk)
		assert.Equal(t, licerrors.CategoryPayloadCorrupted.ExitCode(), res.code)
	})

	t.Run("missing file", func(t *testing.T) {
		res := f.run(t, "", "activate", filepath.Join(f.dir, "nope.lic"))
		assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
	})

	res := f.run(t, "", "status")
	require.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, string(license.StatusUnactivated))
}

func TestTelemetryExport(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, 0, f.run(t, "", "activate", f.licenseFile(t, f.machineID)).code)

	res := f.run(t, "", "telemetry", "export", "--format", "json")
	require.Equal(t, 0, res.code, res.stderr)
	var events []telemetry.Event
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, telemetry.EventActivationSucceeded, events[len(events)-1].Type)

	csvPath := filepath.Join(f.dir, "events.csv")
	res = f.run(t, "", "telemetry", "export", "--out", csvPath)
	require.Equal(t, 0, res.code, res.stderr)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), telemetry.EventActivationSucceeded)

	xlsxPath := filepath.Join(f.dir, "events.xlsx")
	res = f.run(t, "", "telemetry", "export", "--format", "xlsx", "--out", xlsxPath)
	require.Equal(t, 0, res.code, res.stderr)
	data, err = os.ReadFile(xlsxPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))

	assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), f.run(t, "", "telemetry", "export", "--format", "xlsx").code)
	assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), f.run(t, "", "telemetry", "export", "--format", "pdf").code)

	t.Setenv(config.EnvPrefix+"_TELEMETRY_ENABLED", "false")
	res = f.run(t, "", "telemetry", "export")
	assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
	assert.Contains(t, res.stderr, "disabled")
}

func TestConfigFileAndLogLevel(t *testing.T) {
	f := newFixture(t)

	cfgPath := filepath.Join(f.dir, "licensor.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("license:\n  grace_period: 1h\n  validation_interval: 2h\n"), 0644))
	res := f.run(t, "", "--config", cfgPath, "status")
	assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
	assert.Contains(t, res.stderr, "exceeds grace period")

	res = f.run(t, "", "--log-level", "loud", "status")
	assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
	assert.Contains(t, res.stderr, "--log-level")
	assert.Contains(t, res.stderr, "[ERROR] InvalidArguments: ")
}

func TestServe(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	t.Setenv(config.EnvPrefix+"_SERVER_LISTEN_ADDR", addr)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	res := f.runContext(ctx, t, "", "serve")
	assert.Equal(t, 0, res.code, res.stderr)
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	code := Execute([]string{"version"}, strings.NewReader(""), &stdout, &bytes.Buffer{})
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), config.AppVersion)
}
