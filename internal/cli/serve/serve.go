// Package serve implements 'devbridge serve', the standalone listening bridge.
package serve

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/devbridge/internal/bootstrap"
	"github.com/coral-mesh/devbridge/internal/cli/helpers"
	"github.com/coral-mesh/devbridge/internal/config"
	"github.com/coral-mesh/devbridge/internal/console"
	"github.com/coral-mesh/devbridge/internal/errors"
	"github.com/coral-mesh/devbridge/internal/host"
)

type options struct {
	host          string
	port          int
	path          string
	bootstrapPath string
	echo          bool
	stdin         bool
}

// NewServeCmd creates the serve command.
func NewServeCmd(globals *helpers.GlobalOptions) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for a debug target to connect",
		Long: `Listen for a websocket connection from a debug target.

Only one target is bridged at a time; extra connections are closed while
a session is active. If the port cannot be bound, or the listener fails,
the error is shown and the bridge retries after the restart delay.

Example:
  devbridge serve
  devbridge serve --port 8098 --stdin`,
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
	cmd.Flags().StringVar(&opts.bootstrapPath, "bootstrap", "", "Backend script to send on attach (default: embedded)")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "Print every message exchanged with the target")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "Send JSON lines read from stdin to the target")

	return cmd
}

func (o options) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Serve.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Serve.Port = o.port
	}
	if flags.Changed("path") {
		cfg.Serve.Path = o.path
	}
	if flags.Changed("bootstrap") {
		cfg.Bootstrap.Path = o.bootstrapPath
	}
	if flags.Changed("echo") {
		cfg.Console.Echo = o.echo
	}
}

func run(cmd *cobra.Command, cfg *config.Config, readStdin bool) error {
	logger := helpers.NewLogger(cfg, "devbridge-serve")

	script, err := bootstrap.Load(cfg.Bootstrap.Path)
	if err != nil {
		return err
	}

	ui := console.New(console.Config{
		Out:         cmd.OutOrStdout(),
		SettleDelay: cfg.Console.SettleDelay,
		Echo:        cfg.Console.Echo,
		Logger:      logger,
	})
	defer ui.Close()

	ctx, stop := helpers.SignalContext(cmd.Context(), logger)
	defer stop()

	h := host.StartServer(host.ServeConfig{
		Host:         cfg.Serve.Host,
		Port:         cfg.Serve.Port,
		Path:         cfg.Serve.Path,
		RestartDelay: cfg.Serve.RestartDelay,
		Bootstrap:    script,
		Handler:      ui,
		Logger:       logger,
	})
	defer errors.DeferClose(logger, h, "Failed to close bridge")

	if readStdin {
		go func() {
			if err := ui.ReadCommands(cmd.InOrStdin()); err != nil {
				logger.Warn().Err(err).Msg("Failed to read stdin")
			}
		}()
	}

	<-ctx.Done()
	return nil
}
