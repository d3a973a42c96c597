package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenLifetime is the fixed lifetime of a device token. Expiry forces
// re-pairing, never silent renewal.
const TokenLifetime = 24 * time.Hour

// DeviceClaims represents the claims in a device bearer token
type DeviceClaims struct {
	DeviceFingerprint string `json:"device_fingerprint"`
	PairingID         string `json:"pairing_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates device tokens.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer with the given HMAC secret.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret}
}

// IssueDeviceToken generates a bearer token for a completed pairing.
func (i *TokenIssuer) IssueDeviceToken(deviceFingerprint, pairingID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(TokenLifetime)
	claims := &DeviceClaims{
		DeviceFingerprint: deviceFingerprint,
		PairingID:         pairingID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign device token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a bearer token and returns its claims. Expired or
// malformed tokens fail terminally; the caller must re-pair, not retry.
func (i *TokenIssuer) ValidateToken(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*DeviceClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
