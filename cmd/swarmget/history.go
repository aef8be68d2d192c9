package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapetech/slskdn-sub000/internal/sqlitestate"
)

var historyLimit int

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently completed jobs from a history database",
		RunE:  runHistory,
	}
	cmd.Flags().StringVar(&fetchHistoryDB, "history-db", "", "sqlite path written by `fetch --history-db` (required)")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of jobs to show")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	if fetchHistoryDB == "" {
		return fmt.Errorf("--history-db is required")
	}

	store, err := sqlitestate.Open(fetchHistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.ListRecent(context.Background(), historyLimit)
	if err != nil {
		return err
	}

	for _, j := range jobs {
		fmt.Printf("%-5d %-40s %10d bytes  %8s  %d sources  %s\n",
			j.ID, j.TargetFilename, j.TotalBytes, j.Elapsed, j.SourceCount, j.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
