// Package pipeline runs the per-stream playback loop: one goroutine, locked
// to its OS thread, waiting on exactly two things (the next packet from the
// stream's ingress queue and the next transport command) and dispatching
// every decoded unit synchronously to a caller-supplied callback.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/zsiec/reel/internal/control"
	"github.com/zsiec/reel/internal/ingress"
	"github.com/zsiec/reel/internal/media"
)

// State is the transport state of a pipeline.
type State int32

// Pipeline states. The zero value is not a valid initial state, so callers
// must choose Playing or Paused explicitly.
const (
	StatePlaying State = iota + 1
	StatePaused
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	errAlreadyRunning = errors.New("pipeline already running")
	errDecoderPanic   = errors.New("decoder panicked")
)

// Decoder turns one packet into zero or more decoded units. A returned
// error marks only that packet as undecodable.
type Decoder[U any] interface {
	Decode(p *media.Packet) ([]U, error)
	Close() error
}

// Config wires a pipeline to its collaborators.
type Config[U any] struct {
	// Name identifies the stream in logs and errors, e.g. "video".
	Name    string
	Decoder Decoder[U]
	Input   *ingress.Queue
	Control *control.Plane

	// Initial is the state the loop starts in. It has no default.
	Initial State

	// OnUnit receives every decoded unit on the pipeline goroutine. It must
	// return in bounded time and must not send on Input.
	OnUnit func(U)

	OnDecodeError func(error)
	OnStateChange func(State)
	Log           *slog.Logger
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Name         string
	State        State
	Packets      int64
	Units        int64
	DecodeErrors int64
	Commands     int64
	QueueDepth   int
}

// Pipeline is the playback engine for a single elementary stream.
type Pipeline[U any] struct {
	log     *slog.Logger
	name    string
	dec     Decoder[U]
	input   *ingress.Queue
	ctrl    *control.Plane
	onUnit  func(U)
	onError func(error)
	onState func(State)

	state   atomic.Int32
	started atomic.Bool
	done    chan struct{}

	packets      atomic.Int64
	units        atomic.Int64
	decodeErrors atomic.Int64
	commands     atomic.Int64
}

// New validates cfg and builds a pipeline that has not started yet.
// Configuration problems are reported as *media.SetupError.
func New[U any](cfg Config[U]) (*Pipeline[U], error) {
	var err error
	switch {
	case cfg.Decoder == nil:
		err = errors.New("no decoder")
	case cfg.Input == nil:
		err = errors.New("no ingress queue")
	case cfg.Control == nil:
		err = errors.New("no control plane")
	case cfg.OnUnit == nil:
		err = errors.New("no unit callback")
	case cfg.Initial != StatePlaying && cfg.Initial != StatePaused:
		err = fmt.Errorf("invalid initial state %s", cfg.Initial)
	}
	if err != nil {
		return nil, media.NewSetupError("pipeline", cfg.Name, err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	p := &Pipeline[U]{
		log:     log.With("component", "pipeline", "stream", cfg.Name),
		name:    cfg.Name,
		dec:     cfg.Decoder,
		input:   cfg.Input,
		ctrl:    cfg.Control,
		onUnit:  cfg.OnUnit,
		onError: cfg.OnDecodeError,
		onState: cfg.OnStateChange,
		done:    make(chan struct{}),
	}
	p.state.Store(int32(cfg.Initial))
	return p, nil
}

// Name returns the stream name the pipeline was configured with.
func (p *Pipeline[U]) Name() string { return p.name }

// State returns the last state the loop observed.
func (p *Pipeline[U]) State() State { return State(p.state.Load()) }

// Run executes the playback loop on the calling goroutine until the control
// plane is closed or the ingress queue is closed and drained. It always
// returns nil after a normal termination; a second call returns an error.
func (p *Pipeline[U]) Run() error {
	if !p.started.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer p.finish()

	p.log.Debug("pipeline started", "state", p.State())

	packets := p.input.C()
	for {
		// Pending commands win over a ready packet so that a pause or a
		// termination request takes effect before the next dequeue.
		select {
		case <-p.ctrl.Ready():
			if p.applyCommands() {
				return nil
			}
			continue
		default:
		}

		var in <-chan *media.Packet
		if p.State() == StatePlaying {
			in = packets
		}

		select {
		case <-p.ctrl.Ready():
			if p.applyCommands() {
				return nil
			}

		case pkt, ok := <-in:
			if !ok {
				p.log.Info("ingress closed")
				return nil
			}
			p.decode(pkt)
		}
	}
}

// Start runs the loop on a new goroutine. Use Wait to join it.
func (p *Pipeline[U]) Start() {
	go func() {
		_ = p.Run()
	}()
}

// Wait blocks until the loop has exited.
func (p *Pipeline[U]) Wait() {
	<-p.done
}

// Done is closed once the loop has exited and the decoder is released.
func (p *Pipeline[U]) Done() <-chan struct{} {
	return p.done
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline[U]) Stats() Stats {
	return Stats{
		Name:         p.name,
		State:        p.State(),
		Packets:      p.packets.Load(),
		Units:        p.units.Load(),
		DecodeErrors: p.decodeErrors.Load(),
		Commands:     p.commands.Load(),
		QueueDepth:   p.input.Len(),
	}
}

// applyCommands drains the control plane, applying commands in order, and
// reports whether the plane was closed.
func (p *Pipeline[U]) applyCommands() bool {
	cmds, closed := p.ctrl.Drain()
	for _, c := range cmds {
		p.commands.Add(1)
		switch c {
		case control.Play:
			p.setState(StatePlaying)
		case control.Pause:
			p.setState(StatePaused)
		default:
			p.log.Warn("ignoring unknown command", "command", c)
		}
	}
	if closed {
		p.log.Debug("control plane closed")
	}
	return closed
}

func (p *Pipeline[U]) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev == s {
		return
	}
	p.log.Debug("state changed", "from", prev, "to", s)
	if p.onState != nil {
		p.onState(s)
	}
}

func (p *Pipeline[U]) decode(pkt *media.Packet) {
	p.packets.Add(1)

	units, err := p.safeDecode(pkt)
	if err != nil {
		p.decodeErrors.Add(1)
		derr := &media.DecodeError{Stream: p.name, PTS: pkt.PTS, Err: err}
		p.log.Debug("skipping undecodable packet", "pts", pkt.PTS, "error", err)
		if p.onError != nil {
			p.onError(derr)
		}
		return
	}

	for _, u := range units {
		p.onUnit(u)
		p.units.Add(1)
	}
}

func (p *Pipeline[U]) safeDecode(pkt *media.Packet) (units []U, err error) {
	defer func() {
		if r := recover(); r != nil {
			units = nil
			err = fmt.Errorf("%w: %v", errDecoderPanic, r)
		}
	}()
	return p.dec.Decode(pkt)
}

func (p *Pipeline[U]) finish() {
	p.setState(StateTerminated)
	if err := p.dec.Close(); err != nil {
		p.log.Warn("decoder close failed", "error", err)
	}
	s := p.Stats()
	p.log.Info("pipeline terminated",
		"packets", s.Packets, "units", s.Units,
		"decode_errors", s.DecodeErrors, "queued", s.QueueDepth)
	close(p.done)
}
