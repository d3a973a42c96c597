package capture

import "context"

// Device abstracts the microphone backend. Implementations deliver raw mono
// 16 kHz 16-bit PCM in arbitrarily sized chunks; the capture unit re-windows
// them. Start errors (device busy, permission denied) are terminal for the
// attempt — the unit never retries internally. Mid-stream read problems are
// the device's to absorb: skip the chunk, keep the channel open.
type Device interface {
	// Start begins capture and returns the sample stream. The channel is
	// closed when the device stops.
	Start(ctx context.Context) (<-chan []int16, error)
	Close() error
}
