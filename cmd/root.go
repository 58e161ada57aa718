// Package cmd assembles the mediacore command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/mediacore/cmd/config"
	"github.com/tphakala/mediacore/cmd/decode"
	"github.com/tphakala/mediacore/cmd/info"
	"github.com/tphakala/mediacore/cmd/probe"
	"github.com/tphakala/mediacore/cmd/serve"
	"github.com/tphakala/mediacore/cmd/verify"
	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/conf"
)

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"debug":          "debug",
	"flac-subset":    "flac.subset_mode",
	"verify-md5":     "flac.verify_md5",
	"iso-table-mode": "iso.sample_table_mode",
	"iso-strict":     "iso.validate_strict",
	"metrics":        "metrics.enabled",
	"metrics-listen": "metrics.listen",
	"log-level":      "logging.default_level",
}

// RootCommand creates and returns the root command
func RootCommand(rt *app.Runtime) *cobra.Command {
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "mediacore",
		Short:         "Audio container demuxing and decoding toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: search ., ~/.config/mediacore, /etc/mediacore)")
	if err := setupFlags(rootCmd, v); err != nil {
		panic(err)
	}

	versionCmd := info.VersionCommand(rt)
	configCmd := config.Command(rt)
	rootCmd.AddCommand(
		probe.Command(rt),
		decode.Command(rt),
		verify.Command(rt),
		serve.Command(rt),
		info.Command(rt),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version and config init must work without a valid configuration
		if cmd == versionCmd || (cmd.Parent() == configCmd && cmd.Name() == "init") {
			return nil
		}
		if err := conf.Prepare(v, configFile); err != nil {
			return err
		}
		return rt.Start(cmd.Context(), v)
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return rt.Close()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
// and binds them to their configuration keys.
func setupFlags(rootCmd *cobra.Command, v *viper.Viper) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolP("debug", "d", false, "enable debug logging")
	flags.String("log-level", "", "default log level: debug, info, warn, error")
	flags.String("flac-subset", "", "FLAC subset handling: disabled, enabled, strict")
	flags.Bool("verify-md5", false, "verify the FLAC STREAMINFO MD5 at end of stream")
	flags.String("iso-table-mode", "", "MP4 sample table mode: eager, lazy, auto")
	flags.Bool("iso-strict", false, "refuse MP4 files that fail compliance validation")
	flags.Bool("metrics", false, "expose Prometheus metrics while running")
	flags.String("metrics-listen", "", "metrics listen address")

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
