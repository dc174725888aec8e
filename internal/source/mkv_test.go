package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/abema/go-mp4"
	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/media"
)

type bufferCloser struct{ bytes.Buffer }

func (*bufferCloser) Close() error { return nil }

func writeMatroska(t *testing.T) string {
	t.Helper()

	var buf bufferCloser
	writers, err := webm.NewSimpleBlockWriter(&buf, []webm.TrackEntry{
		{
			Name:        "Video",
			TrackNumber: 1,
			TrackUID:    1,
			CodecID:     "V_UNCOMPRESSED",
			TrackType:   1,
			Video: &webm.Video{
				PixelWidth:  4,
				PixelHeight: 2,
			},
		},
		{
			Name:        "Audio",
			TrackNumber: 2,
			TrackUID:    2,
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		},
		{
			Name:        "Subtitles",
			TrackNumber: 3,
			TrackUID:    3,
			CodecID:     "S_TEXT/UTF8",
			TrackType:   0x11,
		},
		{
			Name:        "Data",
			TrackNumber: 4,
			TrackUID:    4,
			CodecID:     "D_WEBVTT/METADATA",
			TrackType:   0x11,
		},
	}, mkvcore.WithOnFatalHandler(func(err error) {
		t.Errorf("webm writer: %v", err)
	}))
	require.NoError(t, err)

	video, audio, subs, data := writers[0], writers[1], writers[2], writers[3]
	_, err = video.Write(true, 0, bytes.Repeat([]byte{0x10}, 24))
	require.NoError(t, err)
	_, err = audio.Write(true, 0, []byte{0xF8, 0x01})
	require.NoError(t, err)
	_, err = subs.Write(true, 10, []byte("hello"))
	require.NoError(t, err)
	_, err = audio.Write(true, 20, []byte{0xF8, 0x02})
	require.NoError(t, err)
	_, err = data.Write(true, 30, []byte("ignored"))
	require.NoError(t, err)
	_, err = video.Write(false, 40, bytes.Repeat([]byte{0x20}, 24))
	require.NoError(t, err)

	for _, w := range writers {
		require.NoError(t, w.Close())
	}

	path := filepath.Join(t.TempDir(), "clip.mkv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestMatroskaStreams(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), writeMatroska(t), Options{})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, []media.StreamInfo{
		{Index: 0, Kind: media.KindVideo, Codec: media.CodecRawVideo, Width: 4, Height: 2},
		{Index: 1, Kind: media.KindAudio, Codec: demux.CodecOpus, SampleRate: 48000, Channels: 2, SampleFormat: media.SampleFormatS16},
		{Index: 2, Kind: media.KindSubtitle, Codec: media.CodecText},
	}, s.Streams())
}

func TestMatroskaPacketOrder(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), writeMatroska(t), Options{})
	require.NoError(t, err)
	defer s.Close()

	pkts := drain(t, s)

	type got struct {
		stream int
		pts    int64
	}
	var order []got
	for _, p := range pkts {
		order = append(order, got{p.StreamIndex, p.PTS})
	}
	require.Equal(t, []got{
		{0, 0}, {1, 0}, {2, 10_000}, {1, 20_000}, {0, 40_000},
	}, order)

	require.True(t, pkts[0].Keyframe)
	require.False(t, pkts[4].Keyframe)
	require.Equal(t, "hello", string(pkts[2].Payload))
	require.Equal(t, media.KindSubtitle, pkts[2].Kind)
}

func TestMatroskaCloseEndsStream(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), writeMatroska(t), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ReadPacket(context.Background())
	require.ErrorIs(t, err, media.ErrClosed)
}

func TestMatroskaGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.webm")
	require.NoError(t, os.WriteFile(path, []byte("not matroska at all"), 0o644))

	_, err := Open(context.Background(), path, Options{})
	var se *media.SetupError
	require.ErrorAs(t, err, &se)
}

// mkvSPS is a High profile 1280x720 SPS with VUI.
var mkvSPS = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
	0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
	0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
	0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
}

func avcRecord(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := mp4.Marshal(&buf, &mp4.AVCDecoderConfiguration{
		AnyTypeBox:                 mp4.AnyTypeBox{Type: mp4.BoxTypeAvcC()},
		ConfigurationVersion:       1,
		Profile:                    66,
		Level:                      31,
		LengthSizeMinusOne:         3,
		NumOfSequenceParameterSets: 1,
		SequenceParameterSets:      []mp4.AVCParameterSet{{Length: uint16(len(mkvSPS)), NALUnit: mkvSPS}},
		NumOfPictureParameterSets:  1,
		PictureParameterSets:       []mp4.AVCParameterSet{{Length: uint16(len(mp4PPS)), NALUnit: mp4PPS}},
	}, mp4.Context{})
	require.NoError(t, err)
	return buf.Bytes()
}

func writeMatroskaAVC(t *testing.T, private []byte) string {
	t.Helper()

	var buf bufferCloser
	writers, err := webm.NewSimpleBlockWriter(&buf, []webm.TrackEntry{{
		Name:         "Video",
		TrackNumber:  1,
		TrackUID:     1,
		CodecID:      "V_MPEG4/ISO/AVC",
		CodecPrivate: private,
		TrackType:    1,
		Video:        &webm.Video{PixelWidth: 1280, PixelHeight: 720},
	}}, mkvcore.WithOnFatalHandler(func(err error) {
		t.Errorf("webm writer: %v", err)
	}))
	require.NoError(t, err)

	_, err = writers[0].Write(true, 0, avcc(t, mp4IDR))
	require.NoError(t, err)
	_, err = writers[0].Write(false, 40, avcc(t, mp4Slice))
	require.NoError(t, err)
	require.NoError(t, writers[0].Close())

	path := filepath.Join(t.TempDir(), "avc.mkv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestMatroskaAVCTrackDecodes(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), writeMatroskaAVC(t, avcRecord(t)), Options{})
	require.NoError(t, err)
	defer s.Close()

	info := s.Streams()[0]
	require.Equal(t, media.StreamInfo{
		Kind: media.KindVideo, Codec: media.CodecH264,
		Width: 1280, Height: 720, PixelFormat: media.PixelFormatYUV420P,
	}, info)

	pkts := drain(t, s)
	require.Len(t, pkts, 2)

	nalus := demux.ParseAnnexB(pkts[0].Payload)
	require.Len(t, nalus, 3)
	require.Equal(t, []byte{demux.NALTypeSPS, demux.NALTypePPS, demux.NALTypeIDR},
		[]byte{nalus[0].Type, nalus[1].Type, nalus[2].Type})
	require.True(t, pkts[0].Keyframe)
	require.Equal(t, append([]byte{0, 0, 0, 1}, mp4Slice...), pkts[1].Payload)
	require.False(t, pkts[1].Keyframe)

	dec, err := decode.NewRegistry().Video(info)
	require.NoError(t, err)
	defer dec.Close()
	for i, p := range pkts {
		frames, err := dec.Decode(p)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		require.Equal(t, 1280, frames[0].Width)
		require.Equal(t, 720, frames[0].Height)
		require.Equal(t, i == 0, frames[0].Keyframe)
	}
}

func TestMatroskaAVCInBandParameters(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), writeMatroskaAVC(t, nil), Options{})
	require.NoError(t, err)
	defer s.Close()

	pkts := drain(t, s)
	require.Len(t, pkts, 2)
	require.Equal(t, append([]byte{0, 0, 0, 1}, mp4IDR...), pkts[0].Payload)
	require.True(t, pkts[0].Keyframe)
}

func TestMatroskaAVCBadCodecPrivate(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), writeMatroskaAVC(t, []byte{0x01}), Options{})
	var se *media.SetupError
	require.ErrorAs(t, err, &se)
}
