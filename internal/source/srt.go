package source

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/reel/internal/media"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

const (
	defaultSRTLatency  = 120 * time.Millisecond
	defaultDialTimeout = 10 * time.Second
)

// openSRT connects as a caller, or with ?mode=listener waits for the first
// publisher, and demuxes the MPEG-TS payload.
func openSRT(ctx context.Context, u *url.URL, opts Options) (Source, error) {
	q := u.Query()
	streamID := q.Get("streamid")
	log := opts.Log.With("component", "srt", "addr", u.Host)

	var (
		conn *srtgo.Conn
		err  error
	)
	if q.Get("mode") == "listener" {
		conn, err = acceptOne(ctx, u.Host, streamID, opts)
	} else {
		conn, err = dial(ctx, u.Host, streamID, opts)
	}
	if err != nil {
		return nil, media.NewSetupError("open", "", err)
	}
	log.Info("connected", "remote", conn.RemoteAddr(), "stream_key", extractStreamKey(conn.StreamID()))

	rc := &srtReader{Reader: bufio.NewReaderSize(conn, srtReadBufferSize), conn: conn}
	s, err := NewTS(ctx, rc, "srt://"+u.Host, opts)
	if err != nil {
		return nil, err
	}
	s.counter.remote = conn.RemoteAddr().String()
	return s, nil
}

type srtReader struct {
	*bufio.Reader
	conn *srtgo.Conn
}

func (r *srtReader) Close() error { return r.conn.Close() }

func srtConfig(opts Options, streamID string) srtgo.Config {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = opts.SRTLatency
	cfg.StreamID = streamID
	return cfg
}

// dial connects to a remote SRT listener, giving up after opts.DialTimeout.
func dial(ctx context.Context, addr, streamID string, opts Options) (*srtgo.Conn, error) {
	if addr == "" {
		return nil, fmt.Errorf("address is required")
	}
	cfg := srtConfig(opts, streamID)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(opts.DialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("SRT dial timed out after %s", opts.DialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// acceptOne listens on addr until a publisher connects. When key is set,
// callers whose stream ID resolves to a different key are rejected.
func acceptOne(ctx context.Context, addr, key string, opts Options) (*srtgo.Conn, error) {
	cfg := srtConfig(opts, "")

	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	defer l.Close()
	opts.Log.Info("waiting for SRT publisher", "addr", addr)

	if key != "" {
		want := extractStreamKey(key)
		l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
			if extractStreamKey(req.StreamID) != want {
				return srtgo.RejPeer
			}
			return 0
		})
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-stop:
		}
	}()

	conn, err := l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("SRT accept: %w", err)
	}
	return conn, nil
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
