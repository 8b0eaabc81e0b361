// Package connect implements 'devbridge connect', the dial-mode bridge.
package connect

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/devbridge/internal/bootstrap"
	"github.com/coral-mesh/devbridge/internal/cli/helpers"
	"github.com/coral-mesh/devbridge/internal/config"
	"github.com/coral-mesh/devbridge/internal/console"
	"github.com/coral-mesh/devbridge/internal/errors"
	"github.com/coral-mesh/devbridge/internal/host"
	"github.com/coral-mesh/devbridge/internal/retry"
)

type options struct {
	host          string
	port          int
	path          string
	retries       int
	bootstrapPath string
	echo          bool
	stdin         bool
}

// NewConnectCmd creates the connect command.
func NewConnectCmd(globals *helpers.GlobalOptions) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a React Native packager and wait for the app",
		Long: `Dial the packager's devtools websocket and wait for the app to attach.

Each time the app attaches, the backend script is sent and a new session
starts. When the app reloads or reports an error the bridge waits for it
to attach again on the same connection. The command exits when the
packager closes the connection.

Lines read from stdin (with --stdin) are parsed as JSON and sent to the
app. The line "disconnect" ends the current session.

Example:
  devbridge connect
  devbridge connect --port 19000 --retries 10 --stdin --echo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := globals.LoadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg, opts.stdin)
		},
	}

	helpers.AddEndpointFlags(cmd, &opts.host, &opts.port, &opts.path)
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Initial connection attempts")
	cmd.Flags().StringVar(&opts.bootstrapPath, "bootstrap", "", "Backend script to send on attach (default: embedded)")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "Print every message exchanged with the app")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "Send JSON lines read from stdin to the app")

	return cmd
}

// apply copies explicitly set flags over the loaded config.
func (o options) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Dial.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Dial.Port = o.port
	}
	if flags.Changed("path") {
		cfg.Dial.Path = o.path
	}
	if flags.Changed("retries") {
		cfg.Dial.Retries = o.retries
	}
	if flags.Changed("bootstrap") {
		cfg.Bootstrap.Path = o.bootstrapPath
	}
	if flags.Changed("echo") {
		cfg.Console.Echo = o.echo
	}
}

func run(cmd *cobra.Command, cfg *config.Config, readStdin bool) error {
	logger := helpers.NewLogger(cfg, "devbridge-connect")

	script, err := bootstrap.Load(cfg.Bootstrap.Path)
	if err != nil {
		return err
	}
	logger.Debug().
		Str("origin", script.Origin).
		Str("digest", script.Digest()).
		Int("size", script.Size()).
		Msg("Loaded backend script")

	ui := console.New(console.Config{
		Out:         cmd.OutOrStdout(),
		SettleDelay: cfg.Console.SettleDelay,
		Echo:        cfg.Console.Echo,
		Logger:      logger,
	})
	defer ui.Close()

	ctx, stop := helpers.SignalContext(cmd.Context(), logger)
	defer stop()

	h, err := host.ConnectToSocket(ctx, host.DialConfig{
		Host:             cfg.Dial.Host,
		Port:             cfg.Dial.Port,
		Path:             cfg.Dial.Path,
		HandshakeTimeout: cfg.Dial.HandshakeTimeout,
		Retry: retry.Config{
			MaxRetries:     cfg.Dial.Retries,
			InitialBackoff: cfg.Dial.RetryBackoff,
			MaxBackoff:     cfg.Dial.MaxRetryBackoff,
			Jitter:         0.1,
		},
		Bootstrap: script,
		Handler:   ui,
		Logger:    logger,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer errors.DeferClose(logger, h, "Failed to close bridge")

	if readStdin {
		go func() {
			if err := ui.ReadCommands(cmd.InOrStdin()); err != nil {
				logger.Warn().Err(err).Msg("Failed to read stdin")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-h.Done():
		logger.Info().Msg("Packager closed the connection")
	}

	return nil
}
