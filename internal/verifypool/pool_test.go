package verifypool

import (
	"context"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/slskdn-sub000/internal/transport"
)

func TestDigest_SimulatedAdapter(t *testing.T) {
	a := transport.NewSimulatedAdapter()
	a.AddContent("/pkg.bin", []byte("0123456789abcdef"))
	p := peer.ID("peer-1")
	a.AddPeer(p, transport.PeerProfile{})

	ref := transport.SourceRef{PeerID: p, RemotePath: "/pkg.bin"}
	d1, err := Digest(context.Background(), a, ref, 8)
	require.NoError(t, err)
	assert.Len(t, d1, 64) // hex-encoded sha256

	d2, err := Digest(context.Background(), a, ref, 8)
	require.NoError(t, err)
	assert.Equal(t, d1, d2, "digest must be deterministic over identical prefixes")
}

func TestBuild_MajorityWins(t *testing.T) {
	a := transport.NewSimulatedAdapter()
	a.AddContent("/good.bin", []byte("AAAAAAAAAAAAAAAA"))
	a.AddContent("/bad.bin", []byte("BBBBBBBBBBBBBBBB"))

	good1 := peer.ID("good-1")
	good2 := peer.ID("good-2")
	bad := peer.ID("bad-1")
	a.AddPeer(good1, transport.PeerProfile{})
	a.AddPeer(good2, transport.PeerProfile{})
	a.AddPeer(bad, transport.PeerProfile{})

	refs := []transport.SourceRef{
		{PeerID: good1, RemotePath: "/good.bin"},
		{PeerID: good2, RemotePath: "/good.bin"},
		{PeerID: bad, RemotePath: "/bad.bin"},
	}

	pool, err := Build(context.Background(), a, refs, 16, 1, 4)
	require.NoError(t, err)
	assert.Len(t, pool.Sources, 2)
	for _, s := range pool.Sources {
		assert.NotEqual(t, bad, s.PeerID)
	}
}

func TestBuild_InsufficientVerifiedSources(t *testing.T) {
	a := transport.NewSimulatedAdapter()
	a.AddContent("/x.bin", []byte("content"))
	p := peer.ID("offline-peer")
	a.AddPeer(p, transport.PeerProfile{Offline: true})

	refs := []transport.SourceRef{{PeerID: p, RemotePath: "/x.bin"}}

	_, err := Build(context.Background(), a, refs, 7, 1, 2)
	assert.ErrorIs(t, err, ErrInsufficientVerifiedSources)
}

func TestBuild_EmptyCandidateList(t *testing.T) {
	a := transport.NewSimulatedAdapter()
	_, err := Build(context.Background(), a, nil, 8, 1, 2)
	assert.ErrorIs(t, err, ErrInsufficientVerifiedSources)
}

func TestBuild_DeterministicTieBreakByOrder(t *testing.T) {
	a := transport.NewSimulatedAdapter()
	a.AddContent("/a.bin", []byte("AAAA"))
	a.AddContent("/b.bin", []byte("BBBB"))

	pa := peer.ID("a")
	pb := peer.ID("b")
	a.AddPeer(pa, transport.PeerProfile{})
	a.AddPeer(pb, transport.PeerProfile{})

	refs := []transport.SourceRef{
		{PeerID: pa, RemotePath: "/a.bin"},
		{PeerID: pb, RemotePath: "/b.bin"},
	}

	pool, err := Build(context.Background(), a, refs, 4, 1, 4)
	require.NoError(t, err)
	// both groups have size 1; first-seen (pa's digest) must win
	require.Len(t, pool.Sources, 1)
	assert.Equal(t, pa, pool.Sources[0].PeerID)
}
