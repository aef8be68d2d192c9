// Package telemetry is a minimal in-process publish/subscribe hub for
// live per-chunk transfer events. It borrows the Publisher naming and
// fire-and-forget publish idiom from the pack's gazette message client
// (message.NewPublisher / pub.PublishCommitted), stripped down to a
// single Go channel fan-out instead of a durable broker-backed journal
// — a caller watching one swarm download has no need for Kafka-style
// persistence or replay, only a live feed it can choose to ignore.
package telemetry

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Event records one completed chunk transfer.
type Event struct {
	Peer         peer.ID
	ChunkIndex   int
	BytesWritten int64
	TTFB         time.Duration
	TransferTime time.Duration
}

// Publisher fans Events out to any number of subscribers. The zero
// value is not usable; construct with NewPublisher.
type Publisher struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event

	// Dropped counts events that could not be delivered because a
	// subscriber's channel was full. Subscribers are expected to drain
	// promptly; a slow watcher loses events rather than stalling the
	// job.
	Dropped uint64
}

// NewPublisher constructs an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a new listener with the given channel buffer
// size and returns its receive-only channel plus an unsubscribe func.
// The caller must call unsubscribe exactly once when done listening;
// failing to do so leaks the channel (and any events still queued on
// it) for the Publisher's lifetime.
func (p *Publisher) Subscribe(bufSize int) (<-chan Event, func()) {
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Event, bufSize)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	unsubscribe := func() {
		p.mu.Lock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers ev to every current subscriber without blocking. A
// subscriber whose buffer is full is skipped for this event and
// Dropped is incremented rather than back-pressuring the caller —
// telemetry is advisory, never load-bearing for job correctness.
func (p *Publisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.Dropped++
		}
	}
}

// SubscriberCount reports how many listeners are currently attached.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
