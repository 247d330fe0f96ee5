package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hlsvault/hlsvault/internal/blob"
)

var testbotsCmd = &cobra.Command{
	Use:   "testbots",
	Short: "Verify every configured account can reach the blob platform",
	RunE:  runTestBots,
}

func init() {
	rootCmd.AddCommand(testbotsCmd)
}

func runTestBots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireAccounts(); err != nil {
		return err
	}

	client := blob.NewClient(cfg.Blob, nil)
	accounts := blob.AccountsFromConfig(cfg.Accounts)

	failed := 0
	for _, account := range accounts {
		if err := client.Ping(cmd.Context(), account); err != nil {
			failed++
			fmt.Printf("%s: FAIL (%v)\n", account.ID, err)
			continue
		}
		fmt.Printf("%s: ok\n", account.ID)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed", failed, len(accounts))
	}
	fmt.Printf("all %d accounts reachable\n", len(accounts))
	return nil
}
