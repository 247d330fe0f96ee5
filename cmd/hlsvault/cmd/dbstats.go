package cmd

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hlsvault/hlsvault/internal/database"
)

var dbstatsCmd = &cobra.Command{
	Use:   "dbstats",
	Short: "Print row counts for the metadata database",
	RunE:  runDBStats,
}

func init() {
	rootCmd.AddCommand(dbstatsCmd)
}

func runDBStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := database.New(cfg.Database, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return err
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", name, stats[name])
	}
	return nil
}
