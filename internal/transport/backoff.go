package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newReconnectBackoff builds the reconnect policy: exponential starting at
// the initial interval, doubling per attempt, capped, never giving up on
// its own. Randomization is disabled so the retry cadence is predictable:
// 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
func newReconnectBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
