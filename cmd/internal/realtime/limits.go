package realtime

import "time"

const (
	// Max bytes per websocket frame read. Clients only send small control frames.
	maxFrameBytes = 8 << 10

	// Heartbeat defaults.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (client frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
