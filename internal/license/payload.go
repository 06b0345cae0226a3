package license

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Payload is the license content sealed inside a license file. It is
// immutable once issued.
type Payload struct {
	MachineID   string     `json:"machine_id" validate:"required,max=256"`
	IssuedAt    time.Time  `json:"issued_at" validate:"required"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Features    []string   `json:"features" validate:"dive,required,max=64"`
	LicenseID   string     `json:"license_id" validate:"required,uuid"`
	CustomerRef string     `json:"customer_ref" validate:"max=256"`
}

// NewPayload builds a payload with a fresh license id. Times are stored in
// UTC at second precision; features are trimmed, de-duplicated and sorted.
func NewPayload(machineID string, issuedAt time.Time, expiresAt *time.Time, features []string, customerRef string) *Payload {
	p := &Payload{
		MachineID:   strings.TrimSpace(machineID),
		IssuedAt:    issuedAt.UTC().Truncate(time.Second),
		Features:    NormalizeFeatures(features),
		LicenseID:   uuid.NewString(),
		CustomerRef: customerRef,
	}
	if expiresAt != nil {
		exp := expiresAt.UTC().Truncate(time.Second)
		p.ExpiresAt = &exp
	}
	return p
}

// Validate checks the payload's structural rules
func (p *Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(p.IssuedAt) {
		return fmt.Errorf("invalid payload: expires_at %s is not after issued_at %s",
			p.ExpiresAt.Format(time.RFC3339), p.IssuedAt.Format(time.RFC3339))
	}
	return nil
}

// IsExpired reports whether the license is expired at the given time.
// A license without expiry never expires.
func (p *Payload) IsExpired(at time.Time) bool {
	return p.ExpiresAt != nil && !at.Before(*p.ExpiresAt)
}

// HasFeature reports whether the named feature is licensed
func (p *Payload) HasFeature(name string) bool {
	name = strings.TrimSpace(name)
	for _, f := range p.Features {
		if f == name {
			return true
		}
	}
	return false
}

// NormalizeFeatures trims, de-duplicates and sorts a feature list
func NormalizeFeatures(features []string) []string {
	seen := make(map[string]struct{}, len(features))
	out := make([]string, 0, len(features))
	for _, f := range features {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
