// Package media defines the types that flow through the reel playback
// engine, from source packets through decoded units handed to sinks.
package media

import "time"

// Queue and sink sizes shared by the player and the sinks. The ingress
// capacity bounds how far a source may run ahead of a paused or slow
// pipeline before it blocks.
const (
	IngressQueueSize  = 128
	AudioBufferMillis = 500
)

// Packet is one compressed, timestamped unit of a single elementary stream.
// Timestamps and Duration are in microseconds; Duration is zero when the
// container does not carry one.
type Packet struct {
	StreamIndex int
	Kind        StreamKind
	PTS         int64
	DTS         int64
	Duration    int64
	Keyframe    bool
	Payload     []byte
}

// VideoFrame is a decoded picture ready for upload by a renderer. Planes
// holds one slice for packed formats (RGB24) and three for planar YUV.
// Metadata-only decoders leave Planes empty.
type VideoFrame struct {
	PTS      int64
	Width    int
	Height   int
	Format   PixelFormat
	Planes   [][]byte
	Strides  []int
	Keyframe bool
}

// AudioBlock is a run of decoded, interleaved signed 16-bit samples.
type AudioBlock struct {
	PTS        int64
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames (samples per channel).
func (b *AudioBlock) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// SubtitleEvent is a text overlay update. An empty Text clears whatever is
// currently displayed.
type SubtitleEvent struct {
	PTS      int64
	Duration time.Duration
	Text     string
	Channel  int
}

// IsClear reports whether the event clears the overlay.
func (e *SubtitleEvent) IsClear() bool {
	return e.Text == ""
}
