package entities

import "time"

// ConnectionState represents the transport connection lifecycle
type ConnectionState string

const (
	ConnectionStateDisconnected  ConnectionState = "disconnected"
	ConnectionStateConnecting    ConnectionState = "connecting"
	ConnectionStateConnected     ConnectionState = "connected"
	ConnectionStateAuthenticated ConnectionState = "authenticated"
	ConnectionStateReconnecting  ConnectionState = "reconnecting"
	ConnectionStateError         ConnectionState = "error"
)

// Connection describes one authenticated link to a host. It is owned
// exclusively by the transport manager and replaced wholesale on reconnect;
// other components only observe copies of it.
type Connection struct {
	SessionID              string          `json:"session_id"`
	HostAddress            string          `json:"host_address"`
	State                  ConnectionState `json:"state"`
	LastHeartbeatAt        time.Time       `json:"last_heartbeat_at"`
	AuthToken              string          `json:"-"`
	AuthTokenExpiresAt     time.Time       `json:"auth_token_expires_at"`
	CertificateFingerprint string          `json:"certificate_fingerprint"`
}

// TokenExpired reports whether the bearer token can no longer be used.
// An expired token forces re-pairing, never silent renewal.
func (c *Connection) TokenExpired(now time.Time) bool {
	return !c.AuthTokenExpiresAt.IsZero() && now.After(c.AuthTokenExpiresAt)
}
