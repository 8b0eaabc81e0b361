package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

// EnvVerbose routes test logs to t.Log when set to a non-empty value.
const EnvVerbose = "DEVBRIDGE_TEST_VERBOSE"

// NewTestLogger creates a test logger at trace level. Output is discarded
// unless EnvVerbose is set, in which case it goes to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	if os.Getenv(EnvVerbose) != "" {
		return NewTestLoggerWithOutput(t)
	}
	return zerolog.New(io.Discard).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

// NewTestLoggerWithOutput creates a test logger that logs to t.Log().
func NewTestLoggerWithOutput(t *testing.T) zerolog.Logger {
	return zerolog.New(&testLogWriter{t: t}).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

// testLogWriter wraps testing.T to implement io.Writer.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (n int, err error) {
	w.t.Log(string(p))
	return len(p), nil
}
