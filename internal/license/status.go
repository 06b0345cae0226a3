package license

import (
	"time"

	licerrors "licensor/internal/errors"
)

// Status is the activation state of this installation
type Status string

const (
	StatusUnactivated      Status = "unactivated"
	StatusActive           Status = "active"
	StatusGracePeriod      Status = "grace_period"
	StatusHardwareMismatch Status = "hardware_mismatch"
	StatusExpired          Status = "expired"
	StatusTampered         Status = "tampered"
	StatusCorrupted        Status = "corrupted"
)

// Usable reports whether the host application may run licensed features
func (s Status) Usable() bool {
	return s == StatusActive || s == StatusGracePeriod
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusUnactivated, StatusActive, StatusGracePeriod, StatusHardwareMismatch,
		StatusExpired, StatusTampered, StatusCorrupted:
		return true
	}
	return false
}

// Category maps a blocking status to the error taxonomy; usable statuses
// map to the empty category.
func (s Status) Category() licerrors.Category {
	switch s {
	case StatusActive, StatusGracePeriod:
		return ""
	case StatusUnactivated:
		return licerrors.CategoryNotActivated
	case StatusHardwareMismatch:
		return licerrors.CategoryHardwareMismatch
	case StatusExpired:
		return licerrors.CategoryLicenseExpired
	case StatusTampered:
		return licerrors.CategorySignatureInvalid
	case StatusCorrupted:
		return licerrors.CategoryPayloadCorrupted
	}
	return licerrors.CategoryInternal
}

// Message returns display text for the status
func (s Status) Message() string {
	switch s {
	case StatusActive:
		return "License is active."
	case StatusGracePeriod:
		return "Hardware change detected. The license remains usable for a limited time; contact support if this persists."
	}
	return s.Category().UserMessage()
}

// ActivationResult is returned by Manager.Activate
type ActivationResult struct {
	Status    Status             `json:"status"`
	Category  licerrors.Category `json:"category,omitempty"`
	Message   string             `json:"message"`
	LicenseID string             `json:"license_id,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Features  []string           `json:"features,omitempty"`
}

// StatusChange is published to subscribers on every transition
type StatusChange struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Info is a snapshot of the activation for display. Machine ids are masked.
type Info struct {
	Status          Status     `json:"status"`
	Message         string     `json:"message"`
	LicenseID       string     `json:"license_id,omitempty"`
	CustomerRef     string     `json:"customer_ref,omitempty"`
	Features        []string   `json:"features,omitempty"`
	IssuedAt        *time.Time `json:"issued_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	DaysLeft        *int       `json:"days_left,omitempty"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	GraceStartedAt  *time.Time `json:"grace_started_at,omitempty"`
	GraceEndsAt     *time.Time `json:"grace_ends_at,omitempty"`
	MachineID       string     `json:"machine_id,omitempty"`
}
