package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"licensor/internal/security"
)

var (
	testKeyOnce sync.Once
	testKey     *security.KeyPair
	otherKey    *security.KeyPair

	testSecret = []byte("unit-test-payload-secret")
)

// testKeys returns the vendor key and an unrelated key, generated once
func testKeys(t *testing.T) (*security.KeyPair, *security.KeyPair) {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = security.GenerateKeyPair(security.MinRSAKeyBits)
		require.NoError(t, err)
		otherKey, err = security.GenerateKeyPair(security.MinRSAKeyBits)
		require.NoError(t, err)
	})
	return testKey, otherKey
}

func timePtr(t time.Time) *time.Time { return &t }

// issue produces a signed license file for machineID
func issue(t *testing.T, machineID string, issuedAt time.Time, expiresAt *time.Time, features ...string) []byte {
	t.Helper()
	kp, _ := testKeys(t)
	p := NewPayload(machineID, issuedAt, expiresAt, features, "CUST-001")
	data, err := Encode(p, kp, testSecret)
	require.NoError(t, err)
	return data
}

// fakeFingerprints returns a settable fingerprint
type fakeFingerprints struct {
	mu      sync.Mutex
	id      string
	signals map[string]string
	err     error
	calls   int
}

func newFakeFingerprints(id string) *fakeFingerprints {
	return &fakeFingerprints{id: id, signals: map[string]string{"platform_id": "digest-" + id, "volume_id": "vol-1"}}
}

func (f *fakeFingerprints) ComputeFingerprint(context.Context) (security.Fingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return security.Fingerprint{}, f.err
	}
	signals := make(map[string]string, len(f.signals))
	for k, v := range f.signals {
		signals[k] = v
	}
	return security.Fingerprint{MachineID: f.id, Signals: signals}, nil
}

// set switches the machine to a new id with one changed signal
func (f *fakeFingerprints) set(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
	f.signals = map[string]string{"platform_id": "digest-" + id, "volume_id": "vol-1"}
}

func (f *fakeFingerprints) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
