package smpp

import "time"

const (
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 30 * time.Second
)

// ReconnectDelay returns the backoff before reconnect attempt n (1-based):
// min(30s, 5s * n).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseReconnectDelay * time.Duration(attempt)
	if delay > maxReconnectDelay {
		return maxReconnectDelay
	}
	return delay
}
