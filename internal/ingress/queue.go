// Package ingress implements the bounded, ordered packet hand-off from a
// source into one stream pipeline. A full queue blocks the producer; it
// never discards an admitted packet.
package ingress

import (
	"context"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

// Queue is a bounded multi-producer, single-consumer packet channel.
type Queue struct {
	ch chan *media.Packet

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	once     sync.Once
}

// New creates a Queue holding at most capacity packets. Capacities below
// one are raised to one.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan *media.Packet, capacity)}
}

// Send enqueues p, blocking while the queue is full. It returns ctx.Err()
// if ctx ends first and media.ErrClosed if Close has been called.
func (q *Queue) Send(ctx context.Context, p *media.Packet) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return media.ErrClosed
	}
	q.inflight.Add(1)
	q.mu.Unlock()
	defer q.inflight.Done()

	select {
	case q.ch <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C returns the consuming end. Packets buffered before Close are still
// delivered; the channel reports closed only once they are drained.
func (q *Queue) C() <-chan *media.Packet {
	return q.ch
}

// Close refuses further sends, waits for in-flight sends to complete and
// closes the consumer channel. A producer blocked on a full queue keeps
// Close waiting until the consumer frees a slot or the producer's context
// ends. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.once.Do(func() {
		q.inflight.Wait()
		close(q.ch)
	})
}

// Len returns the number of buffered packets.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
