package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/voicedesk/voicedesk/internal/pairing"
	"github.com/voicedesk/voicedesk/internal/transport"
)

// storedCredentials is the pairing result persisted between runs: the bearer
// token plus the certificate material both sides pin.
type storedCredentials struct {
	HostURL           string    `json:"host_url"`
	Token             string    `json:"token"`
	TokenExpiresAt    time.Time `json:"token_expires_at"`
	HostFingerprint   string    `json:"host_fingerprint"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	DeviceCertPEM     string    `json:"device_cert_pem"`
	DeviceKeyPEM      string    `json:"device_key_pem"`
}

func loadCredentials(path string) (*storedCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds storedCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials %s: %w", path, err)
	}
	return &creds, nil
}

func saveCredentials(path string, creds *storedCredentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// transportCredentials rebuilds the manager's credentials from the stored
// pairing result.
func transportCredentials(creds *storedCredentials, deviceLabel string) (transport.Credentials, error) {
	cert, err := tls.X509KeyPair([]byte(creds.DeviceCertPEM), []byte(creds.DeviceKeyPEM))
	if err != nil {
		return transport.Credentials{}, fmt.Errorf("failed to load device certificate: %w", err)
	}
	identity := &pairing.Identity{
		Certificate: cert,
		Fingerprint: creds.DeviceFingerprint,
		CertPEM:     []byte(creds.DeviceCertPEM),
		KeyPEM:      []byte(creds.DeviceKeyPEM),
	}
	return transport.Credentials{
		Token:           creds.Token,
		TokenExpiresAt:  creds.TokenExpiresAt,
		DeviceLabel:     deviceLabel,
		ClientIdentity:  identity,
		HostFingerprint: creds.HostFingerprint,
	}, nil
}

type initiateResponse struct {
	PairingID string `json:"pairing_id"`
	ExpiresAt string `json:"expires_at"`
}

type confirmResponse struct {
	Token           string `json:"token"`
	HostCertificate string `json:"host_certificate"`
	HostFingerprint string `json:"host_fingerprint"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// pair runs the pairing flow against the host's REST surface: initiate,
// read the 6-digit code off the host console, confirm. The host certificate
// is not yet pinned at this point; the code exchanged out-of-band is what
// authenticates the exchange.
func pair(ctx context.Context, baseURL, deviceLabel string, readCode func() (string, error)) (*storedCredentials, error) {
	identity, err := pairing.GenerateIdentity(deviceLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate device identity: %w", err)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	var initiated initiateResponse
	err = postJSON(ctx, client, baseURL+"/api/v1/pairing",
		map[string]string{"device_fingerprint": identity.Fingerprint}, &initiated)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate pairing: %w", err)
	}

	code, err := readCode()
	if err != nil {
		return nil, err
	}

	var confirmed confirmResponse
	err = postJSON(ctx, client, baseURL+"/api/v1/pairing/"+initiated.PairingID+"/confirm",
		map[string]string{"code": code}, &confirmed)
	if err != nil {
		return nil, fmt.Errorf("pairing confirmation failed: %w", err)
	}

	return &storedCredentials{
		Token:             confirmed.Token,
		TokenExpiresAt:    time.Now().Add(24 * time.Hour),
		HostFingerprint:   confirmed.HostFingerprint,
		DeviceFingerprint: identity.Fingerprint,
		DeviceCertPEM:     string(identity.CertPEM),
		DeviceKeyPEM:      string(identity.KeyPEM),
	}, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s", apiErr.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
