// Package config implements the config command group.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/conf"
)

var force bool

// Command creates the config parent command.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}
	cmd.AddCommand(showCommand(rt), initCommand())
	return cmd
}

func showCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := rt.Settings
			if settings == nil {
				settings = conf.DefaultSettings()
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return fmt.Errorf("encode settings: %w", err)
			}
			return enc.Close()
		},
	}
}

func initCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file populated with defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := conf.SaveYAMLConfig(path, conf.DefaultSettings()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
