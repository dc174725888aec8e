package decode

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/media"
)

// baselineSPS is a 320x240 4:2:0 8-bit Baseline profile SPS.
var baselineSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x05, 0x07, 0xE4}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestRegistryBuiltins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.Equal(t, []string{media.CodecH264, media.CodecH265, media.CodecRawVideo}, r.Codecs(media.KindVideo))
	require.Equal(t, []string{media.CodecOpus}, r.Codecs(media.KindAudio))
	require.Equal(t, []string{media.CodecCEA608, media.CodecText}, r.Codecs(media.KindSubtitle))
}

func TestRegistryUnsupported(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Audio(media.StreamInfo{Kind: media.KindAudio, Codec: media.CodecAAC})
	require.ErrorIs(t, err, ErrUnsupportedCodec)
	require.Contains(t, err.Error(), "aac")

	_, err = r.Video(media.StreamInfo{Codec: "vp9"})
	require.ErrorIs(t, err, ErrUnsupportedCodec)
	_, err = r.Subtitle(media.StreamInfo{Codec: "dvbsub"})
	require.ErrorIs(t, err, ErrUnsupportedCodec)
}

type silentAAC struct{}

func (silentAAC) Decode(p *media.Packet) ([]*media.AudioBlock, error) {
	return []*media.AudioBlock{{PTS: p.PTS, SampleRate: 48000, Channels: 2, Samples: make([]int16, 2048)}}, nil
}
func (silentAAC) Close() error { return nil }

func TestRegistryHostFactory(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterAudio(media.CodecAAC, func(media.StreamInfo) (AudioDecoder, error) { return silentAAC{}, nil })

	dec, err := r.Audio(media.StreamInfo{Codec: media.CodecAAC})
	require.NoError(t, err)
	blocks, err := dec.Decode(&media.Packet{PTS: 7})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, 1024, blocks[0].Frames())
}

func TestRawVideoPlanes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		format  media.PixelFormat
		size    int
		want    media.PixelFormat
		strides []int
	}{
		{"explicit yuv420p", media.PixelFormatYUV420P, 24, media.PixelFormatYUV420P, []int{4, 2, 2}},
		{"inferred yuv420p", media.PixelFormatUnknown, 24, media.PixelFormatYUV420P, []int{4, 2, 2}},
		{"inferred rgb24", media.PixelFormatUnknown, 48, media.PixelFormatRGB24, []int{12}},
		{"explicit yuv420p10", media.PixelFormatYUV420P10, 48, media.PixelFormatYUV420P10, []int{8, 4, 4}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dec, err := NewRawVideo(media.StreamInfo{Width: 4, Height: 4, PixelFormat: tt.format})
			require.NoError(t, err)

			frames, err := dec.Decode(&media.Packet{PTS: 40, Payload: make([]byte, tt.size)})
			require.NoError(t, err)
			require.Len(t, frames, 1)

			f := frames[0]
			require.Equal(t, tt.want, f.Format)
			require.Equal(t, tt.strides, f.Strides)
			require.Equal(t, int64(40), f.PTS)
			total := 0
			for _, p := range f.Planes {
				total += len(p)
			}
			require.Equal(t, tt.size, total)
		})
	}
}

func TestRawVideoErrors(t *testing.T) {
	t.Parallel()

	_, err := NewRawVideo(media.StreamInfo{})
	require.ErrorIs(t, err, errNoDimensions)

	dec, err := NewRawVideo(media.StreamInfo{Width: 4, Height: 4, PixelFormat: media.PixelFormatRGB24})
	require.NoError(t, err)
	_, err = dec.Decode(&media.Packet{Payload: make([]byte, 24)})
	require.Error(t, err)

	dec, err = NewRawVideo(media.StreamInfo{Width: 4, Height: 4})
	require.NoError(t, err)
	_, err = dec.Decode(&media.Packet{Payload: make([]byte, 7)})
	require.Error(t, err)
}

func TestH264ProbeTracksSPS(t *testing.T) {
	t.Parallel()

	dec, err := NewH264Probe(media.StreamInfo{})
	require.NoError(t, err)

	_, err = dec.Decode(&media.Packet{Payload: annexB([]byte{0x41, 0x9A})})
	require.ErrorIs(t, err, errNoDimensions, "no SPS seen yet")

	frames, err := dec.Decode(&media.Packet{PTS: 100, Payload: annexB(baselineSPS, []byte{0x68, 0xCE}, []byte{0x65, 0x88})})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, 320, frames[0].Width)
	require.Equal(t, 240, frames[0].Height)
	require.Equal(t, media.PixelFormatYUV420P, frames[0].Format)
	require.True(t, frames[0].Keyframe)
	require.Empty(t, frames[0].Planes)

	frames, err = dec.Decode(&media.Packet{PTS: 140, Payload: annexB([]byte{0x41, 0x9A})})
	require.NoError(t, err)
	require.False(t, frames[0].Keyframe)
	require.Equal(t, 320, frames[0].Width)

	_, err = dec.Decode(&media.Packet{Payload: []byte{1, 2, 3}})
	require.Error(t, err)
}

func TestH265ProbeUsesStreamInfo(t *testing.T) {
	t.Parallel()

	dec, err := NewH265Probe(media.StreamInfo{Width: 1920, Height: 1080, PixelFormat: media.PixelFormatYUV420P10})
	require.NoError(t, err)

	// IDR_W_RADL, type 19
	frames, err := dec.Decode(&media.Packet{Payload: annexB([]byte{19 << 1, 0x01, 0xAF})})
	require.NoError(t, err)
	require.Equal(t, 1920, frames[0].Width)
	require.Equal(t, media.PixelFormatYUV420P10, frames[0].Format)
	require.True(t, frames[0].Keyframe)
}

func TestOpusRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewOpus(media.StreamInfo{Channels: 6})
	require.Error(t, err)

	dec, err := NewOpus(media.StreamInfo{})
	require.NoError(t, err)
	_, err = dec.Decode(&media.Packet{})
	require.ErrorIs(t, err, errEmptyPacket)
	require.NoError(t, dec.Close())
}

// captionSEI builds an H.264 SEI NAL unit carrying A/53 cc_data for field 1.
func captionSEI(pairs ...[2]byte) []byte {
	payload := []byte{0xB5, 0x00, 0x31, 'G', 'A', '9', '4', 0x03}
	payload = append(payload, 0x40|byte(len(pairs))&0x1F, 0xFF)
	for _, p := range pairs {
		payload = append(payload, 0xFC, oddParity(p[0]), oddParity(p[1]))
	}
	payload = append(payload, 0xFF)

	sei := []byte{0x06, 4, byte(len(payload))}
	sei = append(sei, payload...)
	return append(sei, 0x80)
}

func oddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}

func TestCaptionsClearOnEDM(t *testing.T) {
	t.Parallel()

	dec, err := NewCaptions(media.StreamInfo{})
	require.NoError(t, err)

	edm := [2]byte{0x14, 0x2C}

	events, err := dec.Decode(&media.Packet{PTS: 1000, Payload: captionSEI(edm)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, events[0].IsClear())
	require.Equal(t, 1, events[0].Channel)
	require.Equal(t, int64(1000), events[0].PTS)

	// the redundant copy in the next frame is ignored
	events, err = dec.Decode(&media.Packet{PTS: 1033, Payload: captionSEI(edm)})
	require.NoError(t, err)
	require.Empty(t, events)

	// a fresh command later is acted on again
	events, err = dec.Decode(&media.Packet{PTS: 1066, Payload: captionSEI(edm)})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCaptionsRollUpText(t *testing.T) {
	t.Parallel()

	dec, err := NewCaptions(media.StreamInfo{})
	require.NoError(t, err)

	var texts []string
	for _, pair := range [][2]byte{{0x14, 0x25}, {'H', 'I'}, {0x14, 0x2D}} {
		events, err := dec.Decode(&media.Packet{Payload: captionSEI(pair)})
		require.NoError(t, err)
		for _, e := range events {
			if !e.IsClear() {
				texts = append(texts, e.Text)
			}
		}
	}
	require.NotEmpty(t, texts)
	require.Contains(t, texts[len(texts)-1], "HI")
}

func TestCaptionsRejectsNonCaptionSEI(t *testing.T) {
	t.Parallel()

	dec, err := NewCaptions(media.StreamInfo{})
	require.NoError(t, err)
	_, err = dec.Decode(&media.Packet{Payload: []byte{0x06, 0x05, 0x01, 0x00, 0x80}})
	require.ErrorIs(t, err, errNoCaptions)
}

func TestTextDecoder(t *testing.T) {
	t.Parallel()

	dec, err := NewText(media.StreamInfo{})
	require.NoError(t, err)

	events, err := dec.Decode(&media.Packet{PTS: 5, Duration: 2_000_000, Payload: []byte("héllo\r\n")})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "héllo", events[0].Text)
	require.Equal(t, 2*time.Second, events[0].Duration)

	events, err = dec.Decode(&media.Packet{PTS: 6})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, events[0].IsClear())

	_, err = dec.Decode(&media.Packet{Payload: bytes.Repeat([]byte{0xFF}, 3)})
	require.ErrorIs(t, err, errInvalidUTF8)
}
