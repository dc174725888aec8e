package source

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/media"
)

// TS is an MPEG-TS source over any byte stream: a file, stdin or an SRT
// connection.
type TS struct {
	*counter
	rc        io.Closer
	dmx       *demux.Demuxer
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewTS probes rc for its program map table and returns a source over it.
// rc is closed if probing fails.
func NewTS(ctx context.Context, rc io.ReadCloser, name string, opts Options) (*TS, error) {
	opts.defaults()

	var dopts []demux.Option
	if opts.Captions {
		dopts = append(dopts, demux.WithCaptions())
	}

	s := &TS{counter: newCounter(rc, name), rc: rc}
	s.dmx = demux.NewDemuxer(ctx, s.counter, opts.Log.With("input", name), dopts...)
	if err := s.dmx.Probe(); err != nil {
		rc.Close()
		return nil, media.NewSetupError("probe", "", err)
	}
	return s, nil
}

// Streams returns the elementary streams found while probing.
func (s *TS) Streams() []media.StreamInfo { return s.dmx.Streams() }

// ReadPacket returns the next demuxed packet, or media.ErrClosed once the
// source has been closed.
func (s *TS) ReadPacket(ctx context.Context) (*media.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, media.ErrClosed
	}
	pkt, err := s.dmx.ReadPacket()
	if err != nil && s.closed.Load() {
		return nil, media.ErrClosed
	}
	return pkt, err
}

// Close closes the underlying input, which unblocks a pending ReadPacket.
// It is safe to call more than once.
func (s *TS) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.rc.Close()
	})
	return s.closeErr
}
