package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"licensor/internal/security"
)

// ledgerVersion is the GraceLedger envelope version
const ledgerVersion = 1

// ErrLedgerTampered means a stored grace ledger fails its seal
var ErrLedgerTampered = errors.New("grace ledger tampered")

// GraceEntry is the grace history of one license on this machine
type GraceEntry struct {
	RegisteredAt    time.Time  `json:"registered_at"`
	FirstMismatchAt *time.Time `json:"first_mismatch_at,omitempty"`
	// Exhausted is set once the grace period has elapsed and is never cleared
	Exhausted bool `json:"exhausted,omitempty"`
}

// GraceLedger records grace history per LicenseID apart from the activation
// record. It survives deactivation, and copies from several locations merge
// toward the most restrictive history, so restoring an old record cannot
// reopen a grace period.
type GraceLedger struct {
	Version int `json:"version"`
	// HighWater is the latest effective validation time ever observed
	HighWater time.Time             `json:"high_water"`
	Entries   map[string]GraceEntry `json:"entries"`
	MAC       string                `json:"mac"`
}

func newGraceLedger() *GraceLedger {
	return &GraceLedger{Version: ledgerVersion, Entries: make(map[string]GraceEntry)}
}

// Seal serializes the ledger and appends its MAC
func (l *GraceLedger) Seal(secret []byte) ([]byte, error) {
	l.Version = ledgerVersion
	mac, err := l.computeMAC(secret)
	if err != nil {
		return nil, err
	}
	l.MAC = mac
	return json.Marshal(l)
}

// OpenLedger parses a stored ledger and checks its MAC. The returned error
// wraps ErrLedgerTampered when the content does not match the seal.
func OpenLedger(data, secret []byte) (*GraceLedger, error) {
	var l GraceLedger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerTampered, err)
	}
	if l.Version != ledgerVersion {
		return nil, fmt.Errorf("%w: unsupported ledger version %d", ErrLedgerTampered, l.Version)
	}

	expected, err := l.computeMAC(secret)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(expected), []byte(l.MAC)) {
		return nil, fmt.Errorf("%w: seal mismatch", ErrLedgerTampered)
	}
	if l.Entries == nil {
		l.Entries = make(map[string]GraceEntry)
	}
	return &l, nil
}

func (l *GraceLedger) computeMAC(secret []byte) (string, error) {
	key, err := security.DeriveLedgerKey(secret)
	if err != nil {
		return "", fmt.Errorf("failed to derive ledger key: %w", err)
	}

	unsealed := *l
	unsealed.MAC = ""
	body, err := json.Marshal(&unsealed)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger: %w", err)
	}

	h := hmac.New(sha256.New, key)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Merge folds other into l: the later high-water mark, the earlier
// registration and first mismatch, and exhaustion from either side
func (l *GraceLedger) Merge(other *GraceLedger) {
	if other.HighWater.After(l.HighWater) {
		l.HighWater = other.HighWater
	}
	for id, e := range other.Entries {
		cur, ok := l.Entries[id]
		if !ok {
			l.Entries[id] = e.clone()
			continue
		}
		if cur.RegisteredAt.IsZero() || (!e.RegisteredAt.IsZero() && e.RegisteredAt.Before(cur.RegisteredAt)) {
			cur.RegisteredAt = e.RegisteredAt
		}
		if e.FirstMismatchAt != nil && (cur.FirstMismatchAt == nil || e.FirstMismatchAt.Before(*cur.FirstMismatchAt)) {
			t := *e.FirstMismatchAt
			cur.FirstMismatchAt = &t
		}
		cur.Exhausted = cur.Exhausted || e.Exhausted
		l.Entries[id] = cur
	}
}

// Observe raises the high-water mark to at
func (l *GraceLedger) Observe(at time.Time) {
	if at.After(l.HighWater) {
		l.HighWater = at
	}
}

func (l *GraceLedger) clone() *GraceLedger {
	c := &GraceLedger{Version: l.Version, HighWater: l.HighWater, Entries: make(map[string]GraceEntry, len(l.Entries))}
	for id, e := range l.Entries {
		c.Entries[id] = e.clone()
	}
	return c
}

func (e GraceEntry) clone() GraceEntry {
	if e.FirstMismatchAt != nil {
		t := *e.FirstMismatchAt
		e.FirstMismatchAt = &t
	}
	return e
}
