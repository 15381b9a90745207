package sshterminal

import "golang.org/x/time/rate"

// Input limits applied to every terminal connection.
const (
	// MaxInputMessageSize is the maximum size in bytes of one input message.
	// Larger messages are dropped.
	MaxInputMessageSize = 64 * 1024

	// MessageRateLimit is the sustained number of client messages per second.
	MessageRateLimit = 100
	// MessageRateBurst is the burst allowance, sized for paste operations.
	MessageRateBurst = 200
)

// newMessageLimiter returns the per-connection limiter. A non-positive
// limit disables rate limiting.
func newMessageLimiter(limit float64, burst int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = MessageRateBurst
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}
