package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// newFrameLimiter allows events client frames per window with bursts up to
// events. Invalid inputs fall back to the package defaults.
func newFrameLimiter(events int, window time.Duration) *rate.Limiter {
	if events <= 0 {
		events = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(events)), events)
}
