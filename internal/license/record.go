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

// recordVersion is the ActivationRecord envelope version
const recordVersion = 1

var (
	// ErrRecordCorrupted means the stored record does not parse
	ErrRecordCorrupted = errors.New("activation record corrupted")
	// ErrRecordTampered means the record parses but its seal or license signature is wrong
	ErrRecordTampered = errors.New("activation record tampered")
)

// ActivationRecord is the persisted activation. License holds the canonical
// binary license file exactly as imported.
type ActivationRecord struct {
	Version         int               `json:"version"`
	License         []byte            `json:"license"`
	BoundMachineID  string            `json:"bound_machine_id"`
	SignalDigests   map[string]string `json:"signal_digests,omitempty"`
	ActivatedAt     time.Time         `json:"activated_at"`
	LastValidatedAt time.Time         `json:"last_validated_at"`
	GraceStartedAt  *time.Time        `json:"grace_started_at,omitempty"`
	Status          Status            `json:"status"`
	MAC             string            `json:"mac"`
}

// Seal serializes the record and appends its MAC
func (r *ActivationRecord) Seal(secret []byte) ([]byte, error) {
	r.Version = recordVersion
	mac, err := r.computeMAC(secret)
	if err != nil {
		return nil, err
	}
	r.MAC = mac
	return json.Marshal(r)
}

// OpenRecord parses a stored record and checks its MAC and the embedded
// license signature. The returned error wraps ErrRecordCorrupted or
// ErrRecordTampered.
func OpenRecord(data, secret []byte, verify func(*SignedLicense) error) (*ActivationRecord, *SignedLicense, error) {
	var r ActivationRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRecordCorrupted, err)
	}
	if r.Version != recordVersion {
		return nil, nil, fmt.Errorf("%w: unsupported record version %d", ErrRecordCorrupted, r.Version)
	}
	if r.BoundMachineID == "" || len(r.License) == 0 || !r.Status.Valid() {
		return nil, nil, fmt.Errorf("%w: missing fields", ErrRecordCorrupted)
	}

	expected, err := r.computeMAC(secret)
	if err != nil {
		return nil, nil, err
	}
	if !hmac.Equal([]byte(expected), []byte(r.MAC)) {
		return nil, nil, fmt.Errorf("%w: seal mismatch", ErrRecordTampered)
	}

	sl, err := Decode(r.License)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRecordCorrupted, err)
	}
	if verify != nil {
		if err := verify(sl); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrRecordTampered, err)
		}
	}

	return &r, sl, nil
}

func (r *ActivationRecord) computeMAC(secret []byte) (string, error) {
	key, err := security.DeriveRecordKey(r.BoundMachineID, secret)
	if err != nil {
		return "", fmt.Errorf("failed to derive record key: %w", err)
	}

	unsealed := *r
	unsealed.MAC = ""
	body, err := json.Marshal(&unsealed)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	h := hmac.New(sha256.New, key)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (r *ActivationRecord) clone() *ActivationRecord {
	c := *r
	c.License = append([]byte(nil), r.License...)
	if r.SignalDigests != nil {
		c.SignalDigests = make(map[string]string, len(r.SignalDigests))
		for k, v := range r.SignalDigests {
			c.SignalDigests[k] = v
		}
	}
	if r.GraceStartedAt != nil {
		g := *r.GraceStartedAt
		c.GraceStartedAt = &g
	}
	return &c
}
