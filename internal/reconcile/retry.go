package reconcile

import (
	"math/rand"
	"time"
)

// Reconnect delays for exponential backoff. The last entry repeats.
var reconnectDelays = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// JitterFactor is the ±percentage of jitter applied to delays.
const JitterFactor = 0.2

// NextReconnectDelay returns the wait before reconnect attempt n (0-indexed),
// with jitter so clients of a restarted instance do not reconnect in lockstep.
func NextReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(reconnectDelays) {
		attempt = len(reconnectDelays) - 1
	}

	base := reconnectDelays[attempt]
	jitterRange := float64(base) * JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(float64(base) + jitter)
}
