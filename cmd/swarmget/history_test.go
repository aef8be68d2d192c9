package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/snapetech/slskdn-sub000/internal/sqlitestate"
)

func TestHistoryCommand_ListsRecordedJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := sqlitestate.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = store.RecordCompletedJob(context.Background(), sqlitestate.CompletedJob{
		TargetFilename:  "/pkg.bin",
		TargetPath:      "/tmp/pkg.bin",
		TotalBytes:      1024,
		Elapsed:         time.Second,
		ChunksPerSource: map[peer.ID]int{peer.ID("peer-a"): 4},
	})
	if err != nil {
		t.Fatalf("RecordCompletedJob: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{"history", "--history-db", dbPath})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("history failed: %v", err)
	}
}
