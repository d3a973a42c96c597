package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/domain/repositories"
	"github.com/voicedesk/voicedesk/internal/auth"
)

// Config holds pairing settings.
type Config struct {
	// CodeExpiry is how long a pairing code stays valid.
	CodeExpiry time.Duration `yaml:"code_expiry"`
	// SweepInterval is how often expired pairings are reaped.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the standard pairing settings.
func DefaultConfig() Config {
	return Config{
		CodeExpiry:    10 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

// Service manages the device pairing lifecycle: 6-digit codes exchanged
// out-of-band, confirmation, token issue, and expiry.
type Service struct {
	cfg    Config
	repo   repositories.PairingRepository
	issuer *auth.TokenIssuer
	logger *zap.Logger

	hostFingerprint string
	stopChan        chan struct{}
}

// NewService creates the pairing service.
func NewService(cfg Config, repo repositories.PairingRepository, issuer *auth.TokenIssuer, hostFingerprint string, logger *zap.Logger) *Service {
	return &Service{
		cfg:             cfg,
		repo:            repo,
		issuer:          issuer,
		hostFingerprint: hostFingerprint,
		logger:          logger,
		stopChan:        make(chan struct{}),
	}
}

// Initiate starts a pairing for a device and returns the pairing with its
// freshly generated 6-digit code. The code must be shown on the host and
// entered on the client.
func (s *Service) Initiate(ctx context.Context, deviceFingerprint string) (*entities.DevicePairing, error) {
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate pairing code: %w", err)
	}

	now := time.Now()
	pairing := &entities.DevicePairing{
		PairingID:         uuid.NewString(),
		DeviceFingerprint: deviceFingerprint,
		HostFingerprint:   s.hostFingerprint,
		PairingCode:       code,
		Status:            entities.PairingStatusInitiated,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.cfg.CodeExpiry),
	}
	pairing.Transition(entities.PairingStatusAwaitingConfirmation)

	if err := s.repo.Create(ctx, pairing); err != nil {
		return nil, fmt.Errorf("failed to store pairing: %w", err)
	}

	s.logger.Info("Pairing initiated",
		zap.String("pairingID", pairing.PairingID),
		zap.String("deviceFingerprint", deviceFingerprint),
		zap.Time("expiresAt", pairing.ExpiresAt))
	return pairing, nil
}

// Confirm completes a pairing with the user-entered code and issues the
// 24h bearer token. A wrong code fails the pairing permanently; an expired
// one is marked expired.
func (s *Service) Confirm(ctx context.Context, pairingID, code string) (*entities.DevicePairing, error) {
	pairing, err := s.repo.GetByID(ctx, pairingID)
	if err != nil {
		return nil, err
	}

	if pairing.Status.Terminal() {
		return nil, entities.NewCommandError(entities.ErrCodePairingExpired,
			"Pairing is no longer active, start over", false)
	}

	if pairing.Expired(time.Now()) {
		pairing.Transition(entities.PairingStatusExpired)
		_ = s.repo.Update(ctx, pairing)
		return nil, entities.NewCommandError(entities.ErrCodePairingExpired,
			"Pairing code expired, start over", false)
	}

	if pairing.PairingCode != code {
		pairing.Transition(entities.PairingStatusFailed)
		_ = s.repo.Update(ctx, pairing)
		s.logger.Warn("Pairing code mismatch", zap.String("pairingID", pairingID))
		return nil, entities.NewCommandError(entities.ErrCodePairingCodeInvalid,
			"Pairing code is incorrect", false)
	}

	token, _, err := s.issuer.IssueDeviceToken(pairing.DeviceFingerprint, pairing.PairingID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue device token: %w", err)
	}
	pairing.AuthToken = token
	pairing.Transition(entities.PairingStatusCompleted)

	if err := s.repo.Update(ctx, pairing); err != nil {
		return nil, fmt.Errorf("failed to store completed pairing: %w", err)
	}

	s.logger.Info("Pairing completed", zap.String("pairingID", pairingID))
	return pairing, nil
}

// Cancel marks a pending pairing cancelled.
func (s *Service) Cancel(ctx context.Context, pairingID string) error {
	pairing, err := s.repo.GetByID(ctx, pairingID)
	if err != nil {
		return err
	}
	if !pairing.Transition(entities.PairingStatusCancelled) {
		return fmt.Errorf("pairing %s cannot be cancelled in state %s", pairingID, pairing.Status)
	}
	return s.repo.Update(ctx, pairing)
}

// ValidateToken checks a bearer token presented on connect.
func (s *Service) ValidateToken(token string) (*auth.DeviceClaims, error) {
	return s.issuer.ValidateToken(token)
}

// StartSweep begins the background expiry sweep.
func (s *Service) StartSweep() {
	go s.sweepLoop()
	s.logger.Info("Pairing expiry sweep started")
}

// StopSweep stops the background sweep.
func (s *Service) StopSweep() {
	close(s.stopChan)
}

func (s *Service) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.expirePending()
		}
	}
}

func (s *Service) expirePending() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		s.logger.Error("Failed to list pending pairings", zap.Error(err))
		return
	}

	now := time.Now()
	for _, pairing := range pending {
		if !pairing.Expired(now) {
			continue
		}
		if pairing.Transition(entities.PairingStatusExpired) {
			if err := s.repo.Update(ctx, pairing); err != nil {
				s.logger.Error("Failed to expire pairing",
					zap.String("pairingID", pairing.PairingID),
					zap.Error(err))
				continue
			}
			s.logger.Info("Pairing expired", zap.String("pairingID", pairing.PairingID))
		}
	}
}

// generateCode produces a 6-digit numeric code with uniform distribution.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
