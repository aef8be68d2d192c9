package swarm

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/slskdn-sub000/internal/chunkplan"
	"github.com/snapetech/slskdn-sub000/internal/transport"
	"github.com/snapetech/slskdn-sub000/internal/workqueue"
)

func TestWorker_HappyPath(t *testing.T) {
	a := transport.NewSimulatedAdapter()
	content := []byte("0123456789ABCDEF")
	a.AddContent("/file.bin", content)
	p := peer.ID("peer-1")
	a.AddPeer(p, transport.PeerProfile{})

	chunks, err := chunkplan.Plan(int64(len(content)), 4)
	require.NoError(t, err)

	q := workqueue.New(len(chunks))
	events := make(chan Event, 16)
	dir := t.TempDir()

	w := NewWorker(a, transport.SourceRef{PeerID: p, RemotePath: "/file.bin"}, chunks, q, dir, time.Second, events, nil, nil)
	q.Close() // let the worker drain what's already queued, then exit

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Run(ctx)

	var oks []ChunkOK
	var exited bool
	for {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case ChunkOK:
				oks = append(oks, e)
			case WorkerExited:
				exited = true
			default:
				t.Fatalf("unexpected event %T", ev)
			}
		default:
			goto done
		}
	}
done:
	assert.True(t, exited)
	assert.Len(t, oks, len(chunks))

	for _, ok := range oks {
		data, err := os.ReadFile(ok.TempPath)
		require.NoError(t, err)
		assert.Equal(t, content[chunks[ok.ChunkIndex].Offset:chunks[ok.ChunkIndex].End()], data)
	}
}

func TestWorker_PeerRejectsRanged(t *testing.T) {
	a := transport.NewSimulatedAdapter()
	a.AddContent("/file.bin", []byte("0123456789ABCDEF"))
	p := peer.ID("peer-1")
	a.AddPeer(p, transport.PeerProfile{RejectRanged: true})

	chunks, err := chunkplan.Plan(16, 4)
	require.NoError(t, err)

	q := workqueue.New(len(chunks))
	events := make(chan Event, 16)
	dir := t.TempDir()

	w := NewWorker(a, transport.SourceRef{PeerID: p, RemotePath: "/file.bin"}, chunks, q, dir, time.Second, events, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// First chunk (offset 0) succeeds; every later chunk has a nonzero
	// startOffset and is rejected, each requeued exactly once.
	go w.Run(ctx)

	var rejections int
	var oks int
	var exited bool
	timeout := time.After(time.Second)
loop:
	for {
		select {
		case ev := <-events:
			switch ev.(type) {
			case ChunkOK:
				oks++
			case PeerDoesNotSupportRanged:
				rejections++
				q.Close() // stop the retry cycle once we've seen the behavior
			case WorkerExited:
				exited = true
				break loop
			}
		case <-timeout:
			break loop
		}
	}

	assert.True(t, exited)
	assert.GreaterOrEqual(t, rejections, 1)
	assert.Equal(t, 1, oks, "only the zero-offset chunk should succeed before rejection")
}

func TestWorker_RequeuesOnFailure(t *testing.T) {
	a := transport.NewSimulatedAdapter()
	a.AddContent("/file.bin", []byte("0123456789ABCDEF"))
	p := peer.ID("peer-1")
	a.AddPeer(p, transport.PeerProfile{Offline: true})

	chunks, err := chunkplan.Plan(16, 16)
	require.NoError(t, err)

	q := workqueue.New(len(chunks))
	events := make(chan Event, 16)
	dir := t.TempDir()

	w := NewWorker(a, transport.SourceRef{PeerID: p, RemotePath: "/file.bin"}, chunks, q, dir, time.Second, events, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	select {
	case ev := <-events:
		fail, ok := ev.(ChunkFail)
		require.True(t, ok, "expected ChunkFail, got %T", ev)
		assert.Equal(t, 0, fail.ChunkIndex)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ChunkFail")
	}

	// The index must have been pushed back; popping again returns it.
	idx, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	cancel()
}
