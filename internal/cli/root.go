// Package cli wires the devbridge commands together.
package cli

import (
	"github.com/spf13/cobra"

	configcmd "github.com/coral-mesh/devbridge/internal/cli/config"
	"github.com/coral-mesh/devbridge/internal/cli/connect"
	"github.com/coral-mesh/devbridge/internal/cli/helpers"
	"github.com/coral-mesh/devbridge/internal/cli/serve"
	"github.com/coral-mesh/devbridge/pkg/version"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	globals := helpers.NewGlobalOptions()

	rootCmd := &cobra.Command{
		Use:   "devbridge",
		Short: "Bridge a developer tools front end to a React Native app",
		Long: `devbridge relays messages between a developer tools front end and a
debug target running in a React Native app.

In connect mode it dials the packager's devtools websocket and waits for
the app to attach. In serve mode it listens for the target to connect
directly. Either way, each attach sends the backend script and starts a
fresh session.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	globals.Bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(connect.NewConnectCmd(globals))
	rootCmd.AddCommand(serve.NewServeCmd(globals))
	rootCmd.AddCommand(configcmd.NewConfigCmd(globals))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("devbridge version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
