// Package source opens media inputs and presents them to the player as a
// stream list plus a sequence of packets tagged by stream index.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zsiec/reel/internal/media"
)

// Source is a demultiplexed input. ReadPacket returns io.EOF once the input
// is exhausted. Close unblocks a pending ReadPacket.
type Source interface {
	Streams() []media.StreamInfo
	ReadPacket(ctx context.Context) (*media.Packet, error)
	Close() error
}

// StatsReporter is implemented by sources that count the bytes they read.
type StatsReporter interface {
	Stats() Stats
}

// Options tune how Open builds a source.
type Options struct {
	Log *slog.Logger

	// SRTLatency is the receive latency negotiated on SRT connections.
	SRTLatency time.Duration
	// DialTimeout bounds SRT caller connection setup.
	DialTimeout time.Duration
	// Captions declares the caption subtitle stream of MPEG-TS video even
	// when none was seen while probing.
	Captions bool
	// Stdin is read when the URI is "-". Defaults to os.Stdin.
	Stdin io.Reader
}

func (o *Options) defaults() {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.SRTLatency <= 0 {
		o.SRTLatency = defaultSRTLatency
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
}

// Open dispatches on the URI scheme or file extension:
//
//	srt://host:port?streamid=key        SRT caller, MPEG-TS payload
//	srt://:port?mode=listener           SRT listener, first publisher wins
//	*.ts, *.m2ts, -                     MPEG-TS file or stdin
//	*.mp4, *.m4v, *.mov                 ISO BMFF
//	*.mkv, *.webm                       Matroska / WebM
//
// Every failure is reported as *media.SetupError.
func Open(ctx context.Context, uri string, opts Options) (Source, error) {
	opts.defaults()

	if strings.HasPrefix(uri, "srt://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, media.NewSetupError("open", "", fmt.Errorf("parse %q: %w", uri, err))
		}
		return openSRT(ctx, u, opts)
	}

	if uri == "-" {
		return NewTS(ctx, newInterruptReader(opts.Stdin), "stdin", opts)
	}

	switch strings.ToLower(filepath.Ext(uri)) {
	case ".ts", ".m2ts", ".mts":
		f, err := os.Open(uri)
		if err != nil {
			return nil, media.NewSetupError("open", "", err)
		}
		return NewTS(ctx, f, uri, opts)
	case ".mp4", ".m4v", ".mov":
		f, err := os.Open(uri)
		if err != nil {
			return nil, media.NewSetupError("open", "", err)
		}
		return NewMP4(f, uri, opts)
	case ".mkv", ".webm":
		f, err := os.Open(uri)
		if err != nil {
			return nil, media.NewSetupError("open", "", err)
		}
		return NewMatroska(f, uri, opts)
	}
	return nil, media.NewSetupError("open", "", fmt.Errorf("unsupported input %q", uri))
}
