package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/domain/repositories"
)

type PairingRepository struct {
	collection *mongo.Collection
}

// NewPairingRepository creates a new MongoDB pairing repository
func NewPairingRepository(db *mongo.Database) repositories.PairingRepository {
	return &PairingRepository{
		collection: db.Collection("pairings"),
	}
}

// Create implements repositories.PairingRepository
func (r *PairingRepository) Create(ctx context.Context, pairing *entities.DevicePairing) error {
	if pairing == nil {
		return errors.New("pairing cannot be nil")
	}
	if pairing.PairingID == "" {
		return errors.New("pairing ID cannot be empty")
	}

	if _, err := r.collection.InsertOne(ctx, pairing); err != nil {
		return fmt.Errorf("failed to create pairing: %w", err)
	}
	return nil
}

// GetByID implements repositories.PairingRepository
func (r *PairingRepository) GetByID(ctx context.Context, pairingID string) (*entities.DevicePairing, error) {
	if pairingID == "" {
		return nil, errors.New("pairing ID cannot be empty")
	}

	var pairing entities.DevicePairing
	err := r.collection.FindOne(ctx, bson.M{"_id": pairingID}).Decode(&pairing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrPairingNotFound
		}
		return nil, fmt.Errorf("failed to get pairing %s: %w", pairingID, err)
	}

	return &pairing, nil
}

// GetByDeviceFingerprint implements repositories.PairingRepository
func (r *PairingRepository) GetByDeviceFingerprint(ctx context.Context, fingerprint string) (*entities.DevicePairing, error) {
	if fingerprint == "" {
		return nil, errors.New("device fingerprint cannot be empty")
	}

	var pairing entities.DevicePairing
	err := r.collection.FindOne(ctx, bson.M{"device_fingerprint": fingerprint}).Decode(&pairing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrPairingNotFound
		}
		return nil, fmt.Errorf("failed to get pairing for device: %w", err)
	}

	return &pairing, nil
}

// Update implements repositories.PairingRepository
func (r *PairingRepository) Update(ctx context.Context, pairing *entities.DevicePairing) error {
	if pairing == nil {
		return errors.New("pairing cannot be nil")
	}
	if pairing.PairingID == "" {
		return errors.New("pairing ID cannot be empty")
	}

	result, err := r.collection.ReplaceOne(
		ctx,
		bson.M{"_id": pairing.PairingID},
		pairing,
	)
	if err != nil {
		return fmt.Errorf("failed to update pairing: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrPairingNotFound
	}

	return nil
}

// ListPending implements repositories.PairingRepository
func (r *PairingRepository) ListPending(ctx context.Context) ([]*entities.DevicePairing, error) {
	filter := bson.M{"status": bson.M{"$in": []entities.PairingStatus{
		entities.PairingStatusInitiated,
		entities.PairingStatusAwaitingConfirmation,
	}}}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending pairings: %w", err)
	}
	defer cursor.Close(ctx)

	var pairings []*entities.DevicePairing
	if err := cursor.All(ctx, &pairings); err != nil {
		return nil, fmt.Errorf("failed to decode pending pairings: %w", err)
	}

	return pairings, nil
}

// Delete implements repositories.PairingRepository
func (r *PairingRepository) Delete(ctx context.Context, pairingID string) error {
	if pairingID == "" {
		return errors.New("pairing ID cannot be empty")
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": pairingID})
	if err != nil {
		return fmt.Errorf("failed to delete pairing: %w", err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrPairingNotFound
	}

	return nil
}
