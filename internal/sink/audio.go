package sink

import (
	"sync/atomic"

	"github.com/gopxl/beep/v2"

	"github.com/zsiec/reel/internal/media"
)

const s16Scale = 1.0 / 32768

// Audio is a fixed-capacity ring of interleaved signed 16-bit samples
// between the audio pipeline and a real-time output callback. It is a
// single-producer single-consumer ring without locks: Write only advances
// the write position and Stream only advances the read position. When the
// ring is full Write overwrites the oldest samples and Stream skips past
// them. The output side pulls through the beep.Streamer interface and
// receives silence when the ring runs dry.
type Audio struct {
	ring     []atomic.Int32
	channels int
	rate     int

	// sample positions since creation; w is stored by Write, r by Stream
	w, r   atomic.Uint64
	closed atomic.Bool

	written   atomic.Int64
	dropped   atomic.Int64
	underruns atomic.Int64
}

var _ beep.Streamer = (*Audio)(nil)

// AudioStats counts sample traffic through the ring, in samples across all
// channels.
type AudioStats struct {
	Written   int64
	Dropped   int64
	Underruns int64
	Buffered  int
}

// NewAudio creates a ring holding capacitySamples interleaved samples for
// the given channel count. The capacity is rounded down to whole frames.
func NewAudio(capacitySamples, channels, sampleRate int) *Audio {
	if channels < 1 {
		channels = 1
	}
	frames := capacitySamples / channels
	if frames < 1 {
		frames = 1
	}
	return &Audio{
		ring:     make([]atomic.Int32, frames*channels),
		channels: channels,
		rate:     sampleRate,
	}
}

// Format describes the samples Stream produces.
func (a *Audio) Format() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(a.rate),
		NumChannels: a.channels,
		Precision:   2,
	}
}

// Write appends the block's samples. Blocks with a different channel count
// are remixed to the ring's layout; a trailing partial frame is discarded.
// Write must not be called concurrently with itself.
func (a *Audio) Write(b *media.AudioBlock) {
	if a.closed.Load() {
		return
	}
	samples := remix(b.Samples, b.Channels, a.channels)
	samples = samples[:len(samples)-len(samples)%a.channels]

	n := uint64(len(a.ring))
	if k := uint64(len(samples)); k > n {
		a.dropped.Add(int64(k - n))
		samples = samples[k-n:]
	}

	w := a.w.Load()
	for i, s := range samples {
		a.ring[(w+uint64(i))%n].Store(int32(s))
	}
	end := w + uint64(len(samples))
	r := a.r.Load()
	if over := overrun(end, r, n) - overrun(w, r, n); over > 0 {
		a.dropped.Add(int64(over))
	}
	a.w.Store(end)
	a.written.Add(int64(len(samples)))
}

// overrun is how far the write position w has lapped the read position r.
func overrun(w, r, n uint64) uint64 {
	if w-r > n {
		return w - r - n
	}
	return 0
}

// Stream fills samples with stereo frames from the ring. Mono is duplicated
// to both sides. It only reports false after Close.
func (a *Audio) Stream(samples [][2]float64) (int, bool) {
	if a.closed.Load() {
		return 0, false
	}

	n, ch := uint64(len(a.ring)), uint64(a.channels)
	w, r := a.w.Load(), a.r.Load()
	if w-r > n {
		r = w - n
	}
	i := 0
	for ; i < len(samples) && w-r >= ch; i++ {
		l := float64(int16(a.ring[r%n].Load())) * s16Scale
		rt := l
		if ch > 1 {
			rt = float64(int16(a.ring[(r+1)%n].Load())) * s16Scale
		}
		samples[i] = [2]float64{l, rt}
		r += ch
	}
	a.r.Store(r)

	if i < len(samples) {
		a.underruns.Add(1)
		for ; i < len(samples); i++ {
			samples[i] = [2]float64{}
		}
	}
	return len(samples), true
}

// Err always returns nil; the ring never fails.
func (a *Audio) Err() error { return nil }

// Close ends the stream. Later writes are discarded.
func (a *Audio) Close() { a.closed.Store(true) }

// Buffered returns the number of samples waiting in the ring.
func (a *Audio) Buffered() int {
	if a.closed.Load() {
		return 0
	}
	w, r := a.w.Load(), a.r.Load()
	if b := w - r; b < uint64(len(a.ring)) {
		return int(b)
	}
	return len(a.ring)
}

// Stats returns the ring counters.
func (a *Audio) Stats() AudioStats {
	return AudioStats{
		Written:   a.written.Load(),
		Dropped:   a.dropped.Load(),
		Underruns: a.underruns.Load(),
		Buffered:  a.Buffered(),
	}
}

func remix(in []int16, from, to int) []int16 {
	if from == to || from < 1 {
		return in
	}
	frames := len(in) / from
	out := make([]int16, frames*to)
	for f := 0; f < frames; f++ {
		src := in[f*from : (f+1)*from]
		dst := out[f*to : (f+1)*to]
		if to == 1 {
			var sum int
			for _, s := range src {
				sum += int(s)
			}
			dst[0] = int16(sum / from)
			continue
		}
		for c := range dst {
			dst[c] = src[c%from]
		}
	}
	return out
}
