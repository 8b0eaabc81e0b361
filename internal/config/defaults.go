package config

import (
	"github.com/coral-mesh/devbridge/internal/constants"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Dial: DialConfig{
			Host:             constants.DefaultDialHost,
			Port:             constants.DefaultDialPort,
			Path:             constants.DefaultDialPath,
			Retries:          constants.DefaultDialRetries,
			RetryBackoff:     constants.DefaultDialRetryBackoff,
			MaxRetryBackoff:  constants.DefaultDialRetryMaxBackoff,
			HandshakeTimeout: constants.DefaultHandshakeTimeout,
		},
		Serve: ServeConfig{
			Port:         constants.DefaultServePort,
			RestartDelay: constants.DefaultRestartDelay,
		},
		Console: ConsoleConfig{
			SettleDelay: constants.DefaultSettleDelay,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
