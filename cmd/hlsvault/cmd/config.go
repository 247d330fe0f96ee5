package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration after merging defaults, the config
file, and environment variables. Account tokens are redacted.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Tokens never reach stdout.
	redacted := *cfg
	redacted.Accounts = nil
	out, err := yaml.Marshal(redacted)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s", out)
	fmt.Fprintf(cmd.OutOrStdout(), "accounts: %d configured (tokens redacted)\n", len(cfg.Accounts))
	return nil
}
