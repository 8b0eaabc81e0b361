// Package helpers holds plumbing shared by the devbridge commands.
package helpers

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/devbridge/internal/config"
	"github.com/coral-mesh/devbridge/internal/logging"
)

// GlobalOptions are the persistent flags every command sees.
type GlobalOptions struct {
	ConfigPath string
	LogLevel   *logging.LevelFlag
	LogPretty  bool

	flags *pflag.FlagSet
}

// NewGlobalOptions returns options with the default level.
func NewGlobalOptions() *GlobalOptions {
	return &GlobalOptions{LogLevel: logging.NewLevelFlag("info")}
}

// Bind registers the options on fs.
func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	o.flags = fs
	fs.StringVar(&o.ConfigPath, "config", "", "Config file (default: $DEVBRIDGE_CONFIG or ~/.devbridge/config.yaml)")
	fs.Var(o.LogLevel, "log-level", "Log level (trace, debug, info, warn, error)")
	fs.BoolVar(&o.LogPretty, "log-pretty", false, "Human-readable log output")
}

// Loader returns the config loader selected by --config.
func (o *GlobalOptions) Loader() *config.Loader {
	return config.NewLoader(o.ConfigPath)
}

// LoadConfig loads the config file and applies the logging flags that were
// set explicitly.
func (o *GlobalOptions) LoadConfig() (*config.Config, error) {
	cfg, err := o.Loader().Load()
	if err != nil {
		return nil, err
	}
	if o.changed("log-level") {
		cfg.Logging.Level = o.LogLevel.String()
	}
	if o.changed("log-pretty") {
		pretty := o.LogPretty
		cfg.Logging.Pretty = &pretty
	}
	return cfg, nil
}

func (o *GlobalOptions) changed(name string) bool {
	if o.flags == nil {
		return false
	}
	f := o.flags.Lookup(name)
	return f != nil && f.Changed
}

// NewLogger builds the command logger from cfg. Logs always go to stderr so
// they never mix with console output.
func NewLogger(cfg *config.Config, component string) zerolog.Logger {
	return logging.NewWithComponent(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: PrettyLogs(cfg, os.Stderr),
		Output: os.Stderr,
	}, component)
}

// PrettyLogs reports whether logs written to w should be human-readable. An
// unset logging.pretty follows whether w is a terminal.
func PrettyLogs(cfg *config.Config, w io.Writer) bool {
	if cfg.Logging.Pretty != nil {
		return *cfg.Logging.Pretty
	}
	return logging.IsTerminal(w)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
