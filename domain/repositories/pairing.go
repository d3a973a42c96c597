package repositories

import (
	"context"
	"errors"

	"github.com/voicedesk/voicedesk/domain/entities"
)

// ErrPairingNotFound is returned when no pairing matches the lookup key.
var ErrPairingNotFound = errors.New("pairing not found")

// PairingRepository defines data access methods for device pairings.
type PairingRepository interface {
	Create(ctx context.Context, pairing *entities.DevicePairing) error
	GetByID(ctx context.Context, pairingID string) (*entities.DevicePairing, error)
	GetByDeviceFingerprint(ctx context.Context, fingerprint string) (*entities.DevicePairing, error)
	Update(ctx context.Context, pairing *entities.DevicePairing) error
	// ListPending returns pairings that are not yet in a terminal state.
	ListPending(ctx context.Context) ([]*entities.DevicePairing, error)
	Delete(ctx context.Context, pairingID string) error
}
