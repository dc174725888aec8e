package media

import "fmt"

// StreamKind identifies the role of an elementary stream.
type StreamKind int

// Stream kinds handled by the player. Each kind gets at most one pipeline.
const (
	KindVideo StreamKind = iota
	KindAudio
	KindSubtitle
)

func (k StreamKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PixelFormat tags the memory layout of a VideoFrame.
type PixelFormat int

// Supported pixel formats. The zero value means the layout is not known yet.
const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatRGB24
	PixelFormatYUV420P
	PixelFormatYUV420P10
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGB24:
		return "rgb24"
	case PixelFormatYUV420P:
		return "yuv420p"
	case PixelFormatYUV420P10:
		return "yuv420p10le"
	default:
		return "unknown"
	}
}

// ParsePixelFormat maps a format name back to its PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "rgb24":
		return PixelFormatRGB24, nil
	case "yuv420p":
		return PixelFormatYUV420P, nil
	case "yuv420p10le", "yuv420p10":
		return PixelFormatYUV420P10, nil
	}
	return PixelFormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

// FrameSize returns the number of bytes one picture occupies in format f,
// or 0 if the format is unknown. 10-bit samples are stored little-endian in
// two bytes.
func (f PixelFormat) FrameSize(width, height int) int {
	luma := width * height
	chroma := ((width + 1) / 2) * ((height + 1) / 2)
	switch f {
	case PixelFormatRGB24:
		return luma * 3
	case PixelFormatYUV420P:
		return luma + 2*chroma
	case PixelFormatYUV420P10:
		return 2 * (luma + 2*chroma)
	default:
		return 0
	}
}

// SampleFormat describes decoded audio samples. Only interleaved signed
// 16-bit is produced by the built-in decoders.
type SampleFormat int

// Sample formats.
const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatS16
)

func (f SampleFormat) String() string {
	if f == SampleFormatS16 {
		return "s16"
	}
	return "unknown"
}

// StreamInfo describes one elementary stream and the parameters its decoder
// needs. Sources fill in what the container tells them; decoders may refine
// video dimensions from in-band parameter sets.
type StreamInfo struct {
	Index        int
	Kind         StreamKind
	Codec        string
	Width        int
	Height       int
	PixelFormat  PixelFormat
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat
	Language     string
}

func (s StreamInfo) String() string {
	switch s.Kind {
	case KindVideo:
		return fmt.Sprintf("#%d video %s %dx%d %s", s.Index, s.Codec, s.Width, s.Height, s.PixelFormat)
	case KindAudio:
		return fmt.Sprintf("#%d audio %s %dHz %dch", s.Index, s.Codec, s.SampleRate, s.Channels)
	default:
		return fmt.Sprintf("#%d %s %s", s.Index, s.Kind, s.Codec)
	}
}
