// Package player composes a source, the decode registry and one playback
// pipeline per stream kind into a running player with a single
// play/pause transport.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/control"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/ingress"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/pipeline"
	"github.com/zsiec/reel/internal/source"
)

var errNoVideo = errors.New("source has no video stream")

// Callbacks receive decoded units and transport changes. Unit callbacks run
// on the owning pipeline's goroutine and must return quickly; hand the unit
// to a sink. Nil callbacks are allowed.
type Callbacks struct {
	OnFrame        func(*media.VideoFrame)
	OnAudio        func(*media.AudioBlock)
	OnSubtitle     func(*media.SubtitleEvent)
	OnPlayingState func(playing bool)
	OnDecodeError  func(error)
}

// stream is one running pipeline with the type parameter erased.
type stream struct {
	info  media.StreamInfo
	name  string
	queue *ingress.Queue
	ctrl  *control.Plane
	run   func() error
	stats func() pipeline.Stats
	done  <-chan struct{}
}

// StreamStats pairs a pipeline's counters with the stream it plays.
type StreamStats struct {
	Info media.StreamInfo
	pipeline.Stats
}

// Stats is a snapshot of the player.
type Stats struct {
	Playing bool
	Streams []StreamStats
	Routed  int64
	Ignored int64
	Source  *source.Stats
}

// Player plays one source. Create it with Start and release it with Close.
type Player struct {
	log       *slog.Logger
	src       source.Source
	streams   []*stream
	byIndex   map[int]*stream
	onPlaying func(bool)

	toggleMu sync.Mutex
	playing  atomic.Bool

	routed  atomic.Int64
	ignored atomic.Int64

	cancel    context.CancelFunc
	g         *errgroup.Group
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Start builds a pipeline for the first video stream of src and for the
// first audio and subtitle streams when present, then begins playback.
// Any failure before playback begins is a *media.SetupError; every decoder
// built so far is closed and src is left open for the caller. On success
// the player owns src.
func Start(ctx context.Context, src source.Source, cb Callbacks, opts ...Option) (*Player, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.registry == nil {
		o.registry = decode.NewRegistry()
	}

	p := &Player{
		log:       o.log.With("component", "player"),
		src:       src,
		byIndex:   make(map[int]*stream),
		onPlaying: cb.OnPlayingState,
		done:      make(chan struct{}),
	}
	p.playing.Store(o.initialPlaying)

	decs, err := p.buildDecoders(src.Streams(), o)
	if err != nil {
		return nil, err
	}

	if o.outputInit != nil {
		if err := o.outputInit(); err != nil {
			decs.close()
			return nil, media.NewSetupError("output", "", err)
		}
	}

	initial := pipeline.StatePaused
	if o.initialPlaying {
		initial = pipeline.StatePlaying
	}
	if err := p.buildPipelines(decs, cb, initial, o); err != nil {
		decs.close()
		return nil, err
	}

	if p.onPlaying != nil {
		p.onPlaying(o.initialPlaying)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.g, ctx = errgroup.WithContext(ctx)
	for _, s := range p.streams {
		p.g.Go(s.run)
	}
	p.g.Go(func() error {
		return p.distribute(ctx)
	})
	go p.watch()

	names := make([]string, len(p.streams))
	for i, s := range p.streams {
		names[i] = s.info.String()
	}
	p.log.Info("playback started", "streams", names, "playing", o.initialPlaying)
	return p, nil
}

type decoders struct {
	video    decode.VideoDecoder
	audio    decode.AudioDecoder
	subtitle decode.SubtitleDecoder

	videoInfo, audioInfo, subtitleInfo media.StreamInfo
}

func (d *decoders) close() {
	if d.video != nil {
		d.video.Close()
	}
	if d.audio != nil {
		d.audio.Close()
	}
	if d.subtitle != nil {
		d.subtitle.Close()
	}
}

func (p *Player) buildDecoders(infos []media.StreamInfo, o options) (*decoders, error) {
	d := &decoders{}
	var haveVideo, haveAudio, haveSubtitle bool

	for _, info := range infos {
		var err error
		switch {
		case info.Kind == media.KindVideo && !haveVideo:
			haveVideo = true
			d.videoInfo = info
			d.video, err = o.registry.Video(info)

		case info.Kind == media.KindAudio && !haveAudio:
			haveAudio = true
			d.audioInfo = info
			d.audio, err = o.registry.Audio(info)

		case info.Kind == media.KindSubtitle && !haveSubtitle:
			haveSubtitle = true
			d.subtitleInfo = info
			d.subtitle, err = o.registry.Subtitle(info)

		default:
			p.log.Debug("ignoring extra stream", "stream", info.String())
			continue
		}

		if err == nil {
			continue
		}
		if info.Kind != media.KindVideo && o.skipUnsupported && errors.Is(err, decode.ErrUnsupportedCodec) {
			p.log.Warn("skipping stream without decoder", "stream", info.String())
			continue
		}
		d.close()
		return nil, media.NewSetupError("decoder", info.Kind.String(), err)
	}

	if !haveVideo {
		d.close()
		return nil, media.NewSetupError("start", media.KindVideo.String(), errNoVideo)
	}
	return d, nil
}

func (p *Player) buildPipelines(d *decoders, cb Callbacks, initial pipeline.State, o options) error {
	if err := addStream(p, d.videoInfo, d.video, cb.OnFrame, cb.OnDecodeError, initial, o); err != nil {
		return err
	}
	if d.audio != nil {
		if err := addStream(p, d.audioInfo, d.audio, cb.OnAudio, cb.OnDecodeError, initial, o); err != nil {
			return err
		}
	}
	if d.subtitle != nil {
		if err := addStream(p, d.subtitleInfo, d.subtitle, cb.OnSubtitle, cb.OnDecodeError, initial, o); err != nil {
			return err
		}
	}
	return nil
}

func addStream[U any](p *Player, info media.StreamInfo, dec pipeline.Decoder[U], onUnit func(U), onErr func(error), initial pipeline.State, o options) error {
	if onUnit == nil {
		onUnit = func(U) {}
	}
	s := &stream{
		info:  info,
		name:  info.Kind.String(),
		queue: ingress.New(o.queueCapacity),
		ctrl:  control.New(),
	}
	pl, err := pipeline.New(pipeline.Config[U]{
		Name:          s.name,
		Decoder:       dec,
		Input:         s.queue,
		Control:       s.ctrl,
		Initial:       initial,
		OnUnit:        onUnit,
		OnDecodeError: onErr,
		Log:           o.log,
	})
	if err != nil {
		return err
	}
	s.run = pl.Run
	s.stats = pl.Stats
	s.done = pl.Done()
	p.streams = append(p.streams, s)
	p.byIndex[info.Index] = s
	return nil
}

// distribute routes source packets to their stream's ingress queue. Send
// blocks while a queue is full, which in turn stops reading the source.
// When the source ends every queue is closed so the pipelines drain and
// terminate.
func (p *Player) distribute(ctx context.Context) error {
	defer func() {
		for _, s := range p.streams {
			s.queue.Close()
		}
	}()

	for {
		pkt, err := p.src.ReadPacket(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				p.log.Info("end of stream", "routed", p.routed.Load(), "ignored", p.ignored.Load())
			case ctx.Err() != nil:
			default:
				p.log.Error("source read failed", "error", err)
			}
			return nil
		}

		s, ok := p.byIndex[pkt.StreamIndex]
		if !ok {
			p.ignored.Add(1)
			continue
		}
		if err := s.queue.Send(ctx, pkt); err != nil {
			return nil
		}
		p.routed.Add(1)
	}
}

func (p *Player) watch() {
	for _, s := range p.streams {
		<-s.done
	}
	close(p.done)
}

// TogglePausePlaying flips the transport state and sends the matching
// command to every pipeline. It never blocks on a pipeline. OnPlayingState
// runs after the toggle completes, so it may toggle again.
func (p *Player) TogglePausePlaying() {
	playing := p.toggle()
	if p.onPlaying != nil {
		p.onPlaying(playing)
	}
}

func (p *Player) toggle() bool {
	p.toggleMu.Lock()
	defer p.toggleMu.Unlock()

	playing := !p.playing.Load()
	p.playing.Store(playing)

	cmd := control.Pause
	if playing {
		cmd = control.Play
	}
	for _, s := range p.streams {
		if err := s.ctrl.Send(cmd); err != nil {
			p.log.Debug("pipeline no longer accepts commands", "stream", s.name, "error", err)
		}
	}
	p.log.Debug("transport toggled", "playing", playing)
	return playing
}

// Playing reports the logical transport state.
func (p *Player) Playing() bool { return p.playing.Load() }

// Done is closed once every pipeline has terminated, either because the
// source ended and the queues drained or because Close was called.
func (p *Player) Done() <-chan struct{} { return p.done }

// Stats returns a snapshot of the player and its pipelines.
func (p *Player) Stats() Stats {
	st := Stats{
		Playing: p.Playing(),
		Streams: make([]StreamStats, len(p.streams)),
		Routed:  p.routed.Load(),
		Ignored: p.ignored.Load(),
	}
	for i, s := range p.streams {
		st.Streams[i] = StreamStats{Info: s.info, Stats: s.stats()}
	}
	if r, ok := p.src.(source.StatsReporter); ok {
		ss := r.Stats()
		st.Source = &ss
	}
	return st
}

// Close stops reading the source, asks every pipeline to terminate and
// waits for all of them. Packets still queued are discarded. Close is
// idempotent; later calls return the first result.
func (p *Player) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		for _, s := range p.streams {
			s.ctrl.Close()
		}
		srcErr := p.src.Close()
		waitErr := p.g.Wait()
		<-p.done

		if srcErr != nil {
			srcErr = fmt.Errorf("close source: %w", srcErr)
		}
		p.closeErr = errors.Join(srcErr, waitErr)
		p.log.Info("player closed", "routed", p.routed.Load(), "ignored", p.ignored.Load())
	})
	return p.closeErr
}
