package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aws-agent/verity/internal/storage/sqlite"
	"github.com/aws-agent/verity/pkg/config"
)

var pruneFlags struct {
	olderThan time.Duration
	dbPath    string
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit records older than a retention window",
	RunE:  runPrune,
}

func init() {
	f := pruneCmd.Flags()
	f.DurationVar(&pruneFlags.olderThan, "older-than", 30*24*time.Hour, "retention window")
	f.StringVar(&pruneFlags.dbPath, "db", "", "SQLite path (defaults to sqlite.path from config)")
}

func runPrune(cmd *cobra.Command, _ []string) error {
	if pruneFlags.olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	path := pruneFlags.dbPath
	if path == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = cfg.SQLite.Path
	}

	db, err := sqlite.NewClient(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		return err
	}

	cutoff := time.Now().Add(-pruneFlags.olderThan)
	n, err := db.DeleteBefore(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d evaluation(s) recorded before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}
