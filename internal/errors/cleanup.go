// Package errors provides error handling helpers shared by the bridge.
package errors

import (
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes an io.Closer and logs a failure at warn level.
// Use this in defer statements to avoid suppressing close errors.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}
