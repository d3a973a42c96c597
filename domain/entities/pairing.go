package entities

import (
	"time"
)

// PairingStatus represents the state of a device pairing. Transitions are
// monotone: a pairing only ever moves forward, never back to an earlier state.
type PairingStatus string

const (
	PairingStatusInitiated            PairingStatus = "initiated"
	PairingStatusAwaitingConfirmation PairingStatus = "awaiting-confirmation"
	PairingStatusCompleted            PairingStatus = "completed"
	PairingStatusFailed               PairingStatus = "failed"
	PairingStatusExpired              PairingStatus = "expired"
	PairingStatusCancelled            PairingStatus = "cancelled"
)

// Terminal reports whether the pairing can no longer change state.
func (s PairingStatus) Terminal() bool {
	switch s {
	case PairingStatusCompleted, PairingStatusFailed, PairingStatusExpired, PairingStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next.
func (s PairingStatus) CanTransitionTo(next PairingStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case PairingStatusInitiated:
		return next == PairingStatusAwaitingConfirmation || next.Terminal()
	case PairingStatusAwaitingConfirmation:
		return next.Terminal()
	}
	return false
}

// DevicePairing binds a client device to a host via a short-lived numeric
// code exchanged out-of-band.
type DevicePairing struct {
	PairingID         string        `json:"pairing_id" bson:"_id"`
	DeviceFingerprint string        `json:"device_fingerprint" bson:"device_fingerprint"`
	HostFingerprint   string        `json:"host_fingerprint" bson:"host_fingerprint"`
	PairingCode       string        `json:"-" bson:"pairing_code"`
	Status            PairingStatus `json:"status" bson:"status"`
	CreatedAt         time.Time     `json:"created_at" bson:"created_at"`
	ExpiresAt         time.Time     `json:"expires_at" bson:"expires_at"`
	AuthToken         string        `json:"-" bson:"auth_token"`
}

// Expired reports whether the pairing window has closed.
func (p *DevicePairing) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Transition moves the pairing to next, returning false for any move that
// would violate monotonicity.
func (p *DevicePairing) Transition(next PairingStatus) bool {
	if !p.Status.CanTransitionTo(next) {
		return false
	}
	p.Status = next
	return true
}
