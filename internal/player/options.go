package player

import (
	"log/slog"

	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/media"
)

type options struct {
	log             *slog.Logger
	registry        *decode.Registry
	queueCapacity   int
	initialPlaying  bool
	outputInit      func() error
	skipUnsupported bool
}

func defaultOptions() options {
	return options{
		queueCapacity:  media.IngressQueueSize,
		initialPlaying: true,
	}
}

// Option configures Start.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegistry selects the decoders. The default is decode.NewRegistry().
func WithRegistry(r *decode.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithQueueCapacity sets the per-stream ingress queue capacity.
func WithQueueCapacity(n int) Option {
	return func(o *options) { o.queueCapacity = n }
}

// WithInitialPlaying chooses whether playback starts playing (the default)
// or paused.
func WithInitialPlaying(playing bool) Option {
	return func(o *options) { o.initialPlaying = playing }
}

// WithOutputInit runs fn before any pipeline starts, typically to open the
// audio device. A failure aborts Start.
func WithOutputInit(fn func() error) Option {
	return func(o *options) { o.outputInit = fn }
}

// WithSkipUnsupported drops audio and subtitle streams that have no
// registered decoder instead of failing Start. Video is always required.
func WithSkipUnsupported() Option {
	return func(o *options) { o.skipUnsupported = true }
}
