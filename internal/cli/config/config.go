// Package config implements the 'devbridge config' command family.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/devbridge/internal/cli/helpers"
	"github.com/coral-mesh/devbridge/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd(globals *helpers.GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage devbridge configuration",
		Long: `Manage devbridge configuration.

Configuration Priority:
  1. Command flags (highest)
  2. DEVBRIDGE_* environment variables
  3. Config file (~/.devbridge/config.yaml)
  4. Built-in defaults

Environment Variables:
  DEVBRIDGE_CONFIG Override config file path`,
	}

	cmd.AddCommand(newViewCmd(globals))
	cmd.AddCommand(newPathCmd(globals))
	cmd.AddCommand(newInitCmd(globals))
	cmd.AddCommand(newValidateCmd(globals))

	return cmd
}

var viewFormats = []helpers.OutputFormat{helpers.FormatYAML, helpers.FormatJSON}

func newViewCmd(globals *helpers.GlobalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration",
		Long: `Display the configuration after the config file and environment
variables are merged over the defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, viewFormats); err != nil {
				return err
			}

			cfg, err := globals.LoadConfig()
			if err != nil {
				return err
			}

			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(cfg, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatYAML, viewFormats)

	return cmd
}

func newPathCmd(globals *helpers.GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(globals.Loader().Path())
		},
	}
}

func newInitCmd(globals *helpers.GlobalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := globals.Loader()

			if _, err := os.Stat(loader.Path()); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", loader.Path())
			}

			if err := loader.Save(config.DefaultConfig()); err != nil {
				return err
			}

			cmd.Printf("✓ Wrote %s\n", loader.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newValidateCmd(globals *helpers.GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globals.Loader().Path()
			if _, err := globals.LoadConfig(); err != nil {
				return fmt.Errorf("invalid configuration (%s):\n%w", path, err)
			}

			cmd.Printf("✓ Configuration is valid (%s)\n", path)
			return nil
		},
	}
}
