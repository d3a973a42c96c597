package entities

import "time"

// DiscoveredHost is one host found on the local network. The set of
// discovered hosts is ephemeral: rebuilt on every discovery run and
// deduplicated by IP address.
type DiscoveredHost struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IPAddress  string    `json:"ip_address"`
	MACAddress string    `json:"mac_address,omitempty"`
	Reachable  bool      `json:"reachable"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
