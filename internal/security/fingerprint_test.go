package security

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var identity = []string{SignalPlatformID, SignalVolumeID, SignalCPU}

func provider(sources ...SignalSource) *FingerprintProvider {
	return NewFingerprintProvider(identity, nil, WithSignalSources(sources...), WithCacheDuration(0))
}

func TestFingerprintDeterministic(t *testing.T) {
	sources := []SignalSource{
		StaticSignal(SignalPlatformID, "4c4c4544-0035"),
		StaticSignal(SignalVolumeID, "A1B2-C3D4"),
		StaticSignal(SignalCPU, "GenuineIntel/i7"),
		StaticSignal(SignalHostname, "till-01"),
	}

	a, err := provider(sources...).ComputeFingerprint(context.Background())
	require.NoError(t, err)
	b, err := provider(sources...).ComputeFingerprint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.MachineID, b.MachineID)
	assert.Len(t, a.MachineID, 64)
	assert.False(t, a.Degraded)
	assert.Empty(t, a.Missing)
	assert.NotContains(t, a.MachineID, "till-01")
}

func TestFingerprintIgnoresDiagnosticSignals(t *testing.T) {
	base := []SignalSource{
		StaticSignal(SignalPlatformID, "p"),
		StaticSignal(SignalVolumeID, "v"),
		StaticSignal(SignalCPU, "c"),
	}

	a, err := provider(append(base, StaticSignal(SignalHostname, "old-name"), StaticSignal(SignalMAC, "aa:bb"))...).ComputeFingerprint(context.Background())
	require.NoError(t, err)
	b, err := provider(append(base, StaticSignal(SignalHostname, "new-name"), StaticSignal(SignalMAC, "cc:dd"))...).ComputeFingerprint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.MachineID, b.MachineID, "hostname and MAC changes tolerated")
	assert.ElementsMatch(t, []string{SignalHostname, SignalMAC}, ChangedSignals(a.Signals, b.Signals))
}

func TestFingerprintChangesWithIdentitySignal(t *testing.T) {
	a, err := provider(StaticSignal(SignalPlatformID, "p"), StaticSignal(SignalVolumeID, "v1")).ComputeFingerprint(context.Background())
	require.NoError(t, err)
	b, err := provider(StaticSignal(SignalPlatformID, "p"), StaticSignal(SignalVolumeID, "v2")).ComputeFingerprint(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, a.MachineID, b.MachineID)
	assert.Equal(t, []string{SignalVolumeID}, ChangedSignals(a.Signals, b.Signals))
}

func TestFingerprintPartialSignals(t *testing.T) {
	fp, err := provider(
		StaticSignal(SignalPlatformID, "p"),
		StaticSignal(SignalVolumeID, ""),
		SignalFunc{SignalName: SignalCPU, Fn: func(context.Context) (string, error) {
			return "", os.ErrPermission
		}},
	).ComputeFingerprint(context.Background())

	require.NoError(t, err)
	assert.False(t, fp.Degraded)
	assert.Equal(t, []string{SignalVolumeID, SignalCPU}, fp.Missing)
	assert.NotEmpty(t, fp.MachineID)
}

func TestFingerprintDegradedFallback(t *testing.T) {
	fp, err := provider(
		StaticSignal(SignalHostname, "till-01"),
		StaticSignal(SignalMAC, "aa:bb:cc:dd:ee:ff"),
	).ComputeFingerprint(context.Background())

	require.NoError(t, err)
	assert.True(t, fp.Degraded)
	assert.Len(t, fp.Missing, len(identity))
	assert.NotEmpty(t, fp.MachineID)

	_, err = provider().ComputeFingerprint(context.Background())
	assert.ErrorIs(t, err, ErrNoHardwareSignals)
}

func TestFingerprintPlaceholderValuesCountAsMissing(t *testing.T) {
	fp, err := provider(
		StaticSignal(SignalPlatformID, "p"),
		StaticSignal(SignalVolumeID, "To Be Filled By O.E.M."),
	).ComputeFingerprint(context.Background())
	require.NoError(t, err)
	assert.Contains(t, fp.Missing, SignalVolumeID)
}

func TestFingerprintCache(t *testing.T) {
	calls := 0
	src := SignalFunc{SignalName: SignalPlatformID, Fn: func(context.Context) (string, error) {
		calls++
		return "p", nil
	}}
	p := NewFingerprintProvider(identity, nil, WithSignalSources(src))

	_, err := p.ComputeFingerprint(context.Background())
	require.NoError(t, err)
	_, err = p.ComputeFingerprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	p.ClearCache()
	_, err = p.ComputeFingerprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
