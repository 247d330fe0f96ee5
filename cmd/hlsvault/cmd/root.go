// Package cmd implements the CLI commands for hlsvault.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hlsvault/hlsvault/internal/config"
	"github.com/hlsvault/hlsvault/internal/observability"
	"github.com/hlsvault/hlsvault/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "hlsvault",
	Short:   "Video object store with HLS playback",
	Version: version.Short(),
	Long: `hlsvault stores video files as segmented blobs on a chat platform's
file API and serves them back as standard HLS streams.

Ingest probes and segments each input with FFmpeg, spreads the segments
across the configured accounts, and records the metadata needed to
rebuild playlists on demand.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/hlsvault, $HOME/.hlsvault)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (json, text)")
}

// loadConfig reads the configuration, applies explicit CLI flag overrides,
// and installs the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
	return cfg, nil
}

// flagChanged reports whether the user set the flag explicitly. Explicit
// flags beat config file and environment values.
func flagChanged(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}
