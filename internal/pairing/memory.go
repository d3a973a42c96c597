package pairing

import (
	"context"
	"sync"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/domain/repositories"
)

// MemoryRepository is the in-memory pairing store used by default and in
// tests. The Mongo-backed implementation lives in adapters/mongo.
type MemoryRepository struct {
	mu       sync.RWMutex
	pairings map[string]entities.DevicePairing
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{pairings: make(map[string]entities.DevicePairing)}
}

func (r *MemoryRepository) Create(_ context.Context, pairing *entities.DevicePairing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairings[pairing.PairingID] = *pairing
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, pairingID string) (*entities.DevicePairing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pairing, ok := r.pairings[pairingID]
	if !ok {
		return nil, repositories.ErrPairingNotFound
	}
	copied := pairing
	return &copied, nil
}

func (r *MemoryRepository) GetByDeviceFingerprint(_ context.Context, fingerprint string) (*entities.DevicePairing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pairing := range r.pairings {
		if pairing.DeviceFingerprint == fingerprint {
			copied := pairing
			return &copied, nil
		}
	}
	return nil, repositories.ErrPairingNotFound
}

func (r *MemoryRepository) Update(_ context.Context, pairing *entities.DevicePairing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pairings[pairing.PairingID]; !ok {
		return repositories.ErrPairingNotFound
	}
	r.pairings[pairing.PairingID] = *pairing
	return nil
}

func (r *MemoryRepository) ListPending(_ context.Context) ([]*entities.DevicePairing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []*entities.DevicePairing
	for _, pairing := range r.pairings {
		if !pairing.Status.Terminal() {
			copied := pairing
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (r *MemoryRepository) Delete(_ context.Context, pairingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pairings, pairingID)
	return nil
}
