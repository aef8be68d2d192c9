package main

import (
	"path/filepath"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestParsePeerSpec_IDOnly(t *testing.T) {
	id, profile, err := parsePeerSpec("peer-a")
	if err != nil {
		t.Fatalf("parsePeerSpec: %v", err)
	}
	if id != peer.ID("peer-a") {
		t.Fatalf("got id %q, want peer-a", id)
	}
	if profile.ThroughputBps != 200000 {
		t.Fatalf("got default throughput %d, want 200000", profile.ThroughputBps)
	}
}

func TestParsePeerSpec_WithThroughputAndErrorRate(t *testing.T) {
	id, profile, err := parsePeerSpec("peer-b:500000:0.25")
	if err != nil {
		t.Fatalf("parsePeerSpec: %v", err)
	}
	if id != peer.ID("peer-b") {
		t.Fatalf("got id %q, want peer-b", id)
	}
	if profile.ThroughputBps != 500000 {
		t.Fatalf("got throughput %d, want 500000", profile.ThroughputBps)
	}
	if profile.ErrorRate != 0.25 {
		t.Fatalf("got error rate %v, want 0.25", profile.ErrorRate)
	}
}

func TestParsePeerSpec_BadThroughput(t *testing.T) {
	if _, _, err := parsePeerSpec("peer-c:notanumber"); err == nil {
		t.Fatal("expected error for non-numeric throughput")
	}
}

func TestParsePeerSpec_BadErrorRate(t *testing.T) {
	if _, _, err := parsePeerSpec("peer-d:500000:notafloat"); err == nil {
		t.Fatal("expected error for non-numeric error rate")
	}
}

func TestBuildSimulatedAdapter_DefaultPeers(t *testing.T) {
	adapter, sources, err := buildSimulatedAdapter(1024, nil)
	if err != nil {
		t.Fatalf("buildSimulatedAdapter: %v", err)
	}
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if len(sources) != 3 {
		t.Fatalf("got %d sources, want 3 default peers", len(sources))
	}
}

func TestBuildSimulatedAdapter_CustomPeers(t *testing.T) {
	_, sources, err := buildSimulatedAdapter(2048, []string{"solo:100000"})
	if err != nil {
		t.Fatalf("buildSimulatedAdapter: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(sources))
	}
	if sources[0].PeerID != peer.ID("solo") {
		t.Fatalf("got peer %q, want solo", sources[0].PeerID)
	}
}

func TestFetchCommand_EndToEndSimulated(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.bin")

	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{
		"fetch",
		"--output", out,
		"--size", "65536",
		"--skip-verification",
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
}
