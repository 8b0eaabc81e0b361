// Package constants defines shared configuration constants and defaults.
package constants

import "time"

// Ports - Service port defaults.
const (
	// DefaultDialPort is the React Native packager port dialed in connect mode.
	DefaultDialPort = 8081

	// DefaultServePort is the port a standalone bridge listens on in serve mode.
	DefaultServePort = 8097
)

// Addresses - Endpoint defaults.
const (
	DefaultDialHost = "localhost"

	// DefaultDialPath is the packager's devtools websocket route.
	DefaultDialPath = "/devtools"
)

// Timeouts - Default timeout values.
const (
	// DefaultHandshakeTimeout bounds the websocket opening handshake.
	DefaultHandshakeTimeout = 5 * time.Second
)

// Intervals - Default interval values.
const (
	// DefaultRestartDelay is the wait before rebinding after a listen failure.
	DefaultRestartDelay = 1 * time.Second

	// DefaultDialRetryBackoff is the first backoff between initial dial attempts.
	DefaultDialRetryBackoff = 500 * time.Millisecond

	// DefaultDialRetryMaxBackoff caps the dial backoff.
	DefaultDialRetryMaxBackoff = 5 * time.Second

	// DefaultSettleDelay is how long the console waits after a connect before
	// drawing the connected banner.
	DefaultSettleDelay = 100 * time.Millisecond
)

// Retries - Default retry counts.
const (
	// DefaultDialRetries is the number of initial dial attempts. One means no retry.
	DefaultDialRetries = 1
)
