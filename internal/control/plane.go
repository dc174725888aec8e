// Package control carries transport commands to a single stream pipeline.
// A Plane is an unbounded, ordered channel: Send never blocks, commands are
// delivered at most once in send order, and Close is the termination
// request.
package control

import (
	"fmt"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

// Command is a transport state transition.
type Command int

// Transport commands.
const (
	Play Command = iota + 1
	Pause
)

func (c Command) String() string {
	switch c {
	case Play:
		return "play"
	case Pause:
		return "pause"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Plane is the command channel of one pipeline. The owner sends and
// closes; the pipeline waits on Ready and drains.
type Plane struct {
	mu      sync.Mutex
	pending []Command
	closed  bool
	ready   chan struct{}
}

// New creates an open Plane.
func New() *Plane {
	return &Plane{ready: make(chan struct{}, 1)}
}

// Send appends c. It never blocks and returns media.ErrClosed once the
// plane has been closed.
func (p *Plane) Send(c Command) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return media.ErrClosed
	}
	p.pending = append(p.pending, c)
	p.mu.Unlock()

	p.notify()
	return nil
}

// Close requests termination. Commands sent before Close are still
// delivered by Drain ahead of the closed flag. Close is idempotent.
func (p *Plane) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.notify()
}

// Ready fires when commands are pending or the plane has been closed.
func (p *Plane) Ready() <-chan struct{} {
	return p.ready
}

// Drain takes every pending command in send order and reports whether the
// plane has been closed.
func (p *Plane) Drain() ([]Command, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmds := p.pending
	p.pending = nil
	return cmds, p.closed
}

func (p *Plane) notify() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}
