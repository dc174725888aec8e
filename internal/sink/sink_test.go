package sink

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/media"
)

func TestRenderLatestWins(t *testing.T) {
	t.Parallel()

	r := NewRender()
	_, ok := r.Latest()
	require.False(t, ok)

	for pts := int64(1); pts <= 3; pts++ {
		r.Offer(&media.VideoFrame{PTS: pts})
	}

	select {
	case <-r.Frames():
	default:
		t.Fatal("no frame notification")
	}

	f, ok := r.Latest()
	require.True(t, ok)
	require.Equal(t, int64(3), f.PTS)

	_, ok = r.Latest()
	require.False(t, ok)
	require.Equal(t, RenderStats{Offered: 3, Dropped: 2}, r.Stats())
}

func TestImageRGB24(t *testing.T) {
	t.Parallel()

	img, err := Image(&media.VideoFrame{
		Width: 2, Height: 1, Format: media.PixelFormatRGB24,
		Planes:  [][]byte{{1, 2, 3, 4, 5, 6}},
		Strides: []int{6},
	})
	require.NoError(t, err)
	rgba := img.(*image.RGBA)
	require.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 0xFF}, rgba.RGBAAt(0, 0))
	require.Equal(t, color.RGBA{R: 4, G: 5, B: 6, A: 0xFF}, rgba.RGBAAt(1, 0))
}

func TestImageYUV420P(t *testing.T) {
	t.Parallel()

	img, err := Image(&media.VideoFrame{
		Width: 2, Height: 2, Format: media.PixelFormatYUV420P,
		Planes:  [][]byte{{10, 20, 30, 40}, {100}, {200}},
		Strides: []int{2, 1, 1},
	})
	require.NoError(t, err)
	ycc := img.(*image.YCbCr)
	require.Equal(t, color.YCbCr{Y: 40, Cb: 100, Cr: 200}, ycc.YCbCrAt(1, 1))
	require.Equal(t, color.YCbCr{Y: 10, Cb: 100, Cr: 200}, ycc.YCbCrAt(0, 0))
}

func TestImageYUV420P10Downshifts(t *testing.T) {
	t.Parallel()

	le := func(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
	var luma []byte
	for _, v := range []uint16{400, 1020, 4, 0} {
		luma = append(luma, le(v)...)
	}

	img, err := Image(&media.VideoFrame{
		Width: 2, Height: 2, Format: media.PixelFormatYUV420P10,
		Planes:  [][]byte{luma, le(512), le(256)},
		Strides: []int{4, 2, 2},
	})
	require.NoError(t, err)
	ycc := img.(*image.YCbCr)
	require.Equal(t, color.YCbCr{Y: 100, Cb: 128, Cr: 64}, ycc.YCbCrAt(0, 0))
	require.Equal(t, color.YCbCr{Y: 255, Cb: 128, Cr: 64}, ycc.YCbCrAt(1, 0))
	require.Equal(t, color.YCbCr{Y: 1, Cb: 128, Cr: 64}, ycc.YCbCrAt(0, 1))
}

func TestImageErrors(t *testing.T) {
	t.Parallel()

	_, err := Image(&media.VideoFrame{Width: 2, Height: 2, Format: media.PixelFormatYUV420P})
	require.ErrorIs(t, err, ErrNoPixels)

	_, err = Image(&media.VideoFrame{
		Width: 2, Height: 2, Format: media.PixelFormatYUV420P,
		Planes: [][]byte{{1, 2, 3, 4}}, Strides: []int{2},
	})
	require.Error(t, err)

	_, err = Image(&media.VideoFrame{Width: 1, Height: 1, Planes: [][]byte{{0}}, Strides: []int{1}})
	require.Error(t, err)
}

func TestAudioDropsOldest(t *testing.T) {
	t.Parallel()

	a := NewAudio(4, 1, 48000)
	a.Write(&media.AudioBlock{Channels: 1, Samples: []int16{1, 2, 3}})
	a.Write(&media.AudioBlock{Channels: 1, Samples: []int16{4, 5, 6}})

	require.Equal(t, 4, a.Buffered())

	out := make([][2]float64, 6)
	n, ok := a.Stream(out)
	require.True(t, ok)
	require.Equal(t, 6, n)
	for i, want := range []int16{3, 4, 5, 6, 0, 0} {
		v := float64(want) / 32768
		require.Equal(t, [2]float64{v, v}, out[i], "sample %d", i)
	}

	s := a.Stats()
	require.Equal(t, int64(6), s.Written)
	require.Equal(t, int64(2), s.Dropped)
	require.Equal(t, int64(1), s.Underruns)
	require.Zero(t, s.Buffered)
}

func TestAudioOversizedBlock(t *testing.T) {
	t.Parallel()

	a := NewAudio(2, 1, 8000)
	a.Write(&media.AudioBlock{Channels: 1, Samples: []int16{1, 2, 3, 4, 5}})

	out := make([][2]float64, 2)
	a.Stream(out)
	require.Equal(t, 4.0/32768, out[0][0])
	require.Equal(t, 5.0/32768, out[1][0])
	require.Equal(t, int64(3), a.Stats().Dropped)
}

func TestAudioStereoAndRemix(t *testing.T) {
	t.Parallel()

	a := NewAudio(8, 2, 48000)
	require.Equal(t, 2, a.Format().NumChannels)
	require.Equal(t, 48000, int(a.Format().SampleRate))

	a.Write(&media.AudioBlock{Channels: 2, Samples: []int16{100, -100}})
	a.Write(&media.AudioBlock{Channels: 1, Samples: []int16{7}})

	out := make([][2]float64, 2)
	a.Stream(out)
	require.Equal(t, [2]float64{100.0 / 32768, -100.0 / 32768}, out[0])
	require.Equal(t, [2]float64{7.0 / 32768, 7.0 / 32768}, out[1])
}

func TestAudioConcurrentWriteAndStream(t *testing.T) {
	t.Parallel()

	const blocks, perBlock = 2000, 64
	a := NewAudio(256, 2, 48000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		block := make([]int16, perBlock)
		for i := 0; i < blocks; i++ {
			for j := range block {
				block[j] = int16(i)
			}
			a.Write(&media.AudioBlock{Channels: 2, Samples: block})
		}
	}()

	out := make([][2]float64, 48)
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		n, ok := a.Stream(out)
		require.True(t, ok)
		require.Equal(t, len(out), n)
		for _, f := range out {
			require.GreaterOrEqual(t, f[0], 0.0)
			require.Less(t, f[0], float64(blocks)/32768)
		}
	}

	s := a.Stats()
	require.Equal(t, int64(blocks*perBlock), s.Written)
	require.LessOrEqual(t, s.Buffered, 256)
}

func TestAudioDownmix(t *testing.T) {
	t.Parallel()

	require.Equal(t, []int16{15, -5}, remix([]int16{10, 20, -10, 0}, 2, 1))
	require.Equal(t, []int16{3, 3}, remix([]int16{3}, 1, 2))
}

func TestAudioClose(t *testing.T) {
	t.Parallel()

	a := NewAudio(4, 1, 48000)
	a.Write(&media.AudioBlock{Channels: 1, Samples: []int16{1}})
	a.Close()
	a.Write(&media.AudioBlock{Channels: 1, Samples: []int16{2}})

	n, ok := a.Stream(make([][2]float64, 4))
	require.False(t, ok)
	require.Zero(t, n)
	require.NoError(t, a.Err())
}

func TestSubtitlePolicies(t *testing.T) {
	t.Parallel()

	clears := NewSubtitle(EmptyClears)
	clears.Show(&media.SubtitleEvent{Text: "HELLO"})
	require.Equal(t, "HELLO", clears.Current())
	clears.Show(&media.SubtitleEvent{})
	require.Empty(t, clears.Current())
	require.Equal(t, SubtitleStats{Shown: 1, Cleared: 1}, clears.Stats())

	ignores := NewSubtitle(EmptyIgnored)
	ignores.Show(&media.SubtitleEvent{Text: "HELLO", Channel: 1})
	<-ignores.Updates()
	ignores.Show(&media.SubtitleEvent{})
	require.Equal(t, "HELLO", ignores.Current())
	require.Equal(t, 1, ignores.Event().Channel)
	require.Equal(t, SubtitleStats{Shown: 1, Ignored: 1}, ignores.Stats())

	select {
	case <-ignores.Updates():
		t.Fatal("ignored event signalled an update")
	default:
	}
}

func TestParseEmptyPolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]EmptyPolicy{"": EmptyClears, "clear": EmptyClears, "ignore": EmptyIgnored} {
		got, err := ParseEmptyPolicy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
		if in != "" {
			require.Equal(t, in, got.String())
		}
	}
	_, err := ParseEmptyPolicy("drop")
	require.Error(t, err)
}
