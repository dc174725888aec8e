// Package decode turns compressed packets into the units the player hands
// to its sinks. Decoders are looked up by codec name in a Registry; hosts
// register factories for codecs the module does not decode itself, such as
// an H.264 pixel decoder or an AAC decoder.
package decode

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/pipeline"
)

// ErrUnsupportedCodec is returned when no factory is registered for a
// stream's codec and kind.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Decoder interfaces for each stream kind.
type (
	VideoDecoder    = pipeline.Decoder[*media.VideoFrame]
	AudioDecoder    = pipeline.Decoder[*media.AudioBlock]
	SubtitleDecoder = pipeline.Decoder[*media.SubtitleEvent]
)

// Factories build a decoder for one stream.
type (
	VideoFactory    func(media.StreamInfo) (VideoDecoder, error)
	AudioFactory    func(media.StreamInfo) (AudioDecoder, error)
	SubtitleFactory func(media.StreamInfo) (SubtitleDecoder, error)
)

// Registry maps codec names to decoder factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	video     map[string]VideoFactory
	audio     map[string]AudioFactory
	subtitles map[string]SubtitleFactory
}

// NewRegistry returns a registry holding the built-in decoders.
func NewRegistry() *Registry {
	r := &Registry{
		video:     make(map[string]VideoFactory),
		audio:     make(map[string]AudioFactory),
		subtitles: make(map[string]SubtitleFactory),
	}
	r.RegisterVideo(media.CodecRawVideo, NewRawVideo)
	r.RegisterVideo(media.CodecH264, NewH264Probe)
	r.RegisterVideo(media.CodecH265, NewH265Probe)
	r.RegisterAudio(media.CodecOpus, NewOpus)
	r.RegisterSubtitle(media.CodecCEA608, NewCaptions)
	r.RegisterSubtitle(media.CodecText, NewText)
	return r
}

// RegisterVideo installs f for codec, replacing any previous factory.
func (r *Registry) RegisterVideo(codec string, f VideoFactory) {
	r.mu.Lock()
	r.video[codec] = f
	r.mu.Unlock()
}

// RegisterAudio installs f for codec, replacing any previous factory.
func (r *Registry) RegisterAudio(codec string, f AudioFactory) {
	r.mu.Lock()
	r.audio[codec] = f
	r.mu.Unlock()
}

// RegisterSubtitle installs f for codec, replacing any previous factory.
func (r *Registry) RegisterSubtitle(codec string, f SubtitleFactory) {
	r.mu.Lock()
	r.subtitles[codec] = f
	r.mu.Unlock()
}

// Video builds a decoder for a video stream.
func (r *Registry) Video(info media.StreamInfo) (VideoDecoder, error) {
	r.mu.RLock()
	f, ok := r.video[info.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("video %q: %w", info.Codec, ErrUnsupportedCodec)
	}
	return f(info)
}

// Audio builds a decoder for an audio stream.
func (r *Registry) Audio(info media.StreamInfo) (AudioDecoder, error) {
	r.mu.RLock()
	f, ok := r.audio[info.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("audio %q: %w", info.Codec, ErrUnsupportedCodec)
	}
	return f(info)
}

// Subtitle builds a decoder for a subtitle stream.
func (r *Registry) Subtitle(info media.StreamInfo) (SubtitleDecoder, error) {
	r.mu.RLock()
	f, ok := r.subtitles[info.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("subtitle %q: %w", info.Codec, ErrUnsupportedCodec)
	}
	return f(info)
}

// Codecs lists the registered codec names for kind, sorted.
func (r *Registry) Codecs(kind media.StreamKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	switch kind {
	case media.KindVideo:
		for c := range r.video {
			out = append(out, c)
		}
	case media.KindAudio:
		for c := range r.audio {
			out = append(out, c)
		}
	case media.KindSubtitle:
		for c := range r.subtitles {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
