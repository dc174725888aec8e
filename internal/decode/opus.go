package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/pion/opus"

	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/media"
)

const (
	opusOutputRate = 48000
	// maxOpusFrame is the longest packet Opus allows (120 ms at 48 kHz),
	// per channel.
	maxOpusFrame = 5760
)

var errEmptyPacket = errors.New("empty packet")

// Opus decodes Opus packets into interleaved S16 blocks at 48 kHz. Packets
// coded at a lower bandwidth are upsampled by sample repetition, and mono
// packets are duplicated across channels when the stream is stereo.
type Opus struct {
	dec      *opus.Decoder
	channels int
	pcm      []byte
}

// NewOpus builds an Opus decoder for info. Channels defaults to stereo.
func NewOpus(info media.StreamInfo) (AudioDecoder, error) {
	channels := info.Channels
	switch {
	case channels == 0:
		channels = 2
	case channels > 2:
		return nil, fmt.Errorf("opus: %d channels not supported", channels)
	}
	dec := opus.NewDecoder()
	return &Opus{
		dec:      &dec,
		channels: channels,
		pcm:      make([]byte, maxOpusFrame*2*2),
	}, nil
}

// Decode decodes one Opus packet.
func (o *Opus) Decode(p *media.Packet) ([]*media.AudioBlock, error) {
	if len(p.Payload) == 0 {
		return nil, errEmptyPacket
	}
	bandwidth, stereo, err := o.dec.Decode(p.Payload, o.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus: %w", err)
	}

	rate := bandwidthRate(bandwidth)
	if rate == 0 {
		return nil, fmt.Errorf("opus: unexpected bandwidth %s", bandwidth)
	}
	inChannels := 1
	if stereo {
		inChannels = 2
	}

	frames := int(demux.OpusDuration(p.Payload) * time.Duration(rate) / time.Second)
	if limit := len(o.pcm) / (2 * inChannels); frames > limit {
		frames = limit
	}
	if frames == 0 {
		return nil, nil
	}

	factor := opusOutputRate / rate
	out := make([]int16, 0, frames*factor*o.channels)
	for i := 0; i < frames; i++ {
		var frame [2]int16
		for c := 0; c < inChannels; c++ {
			off := (i*inChannels + c) * 2
			frame[c] = int16(binary.LittleEndian.Uint16(o.pcm[off:]))
		}
		if inChannels == 1 {
			frame[1] = frame[0]
		}
		for r := 0; r < factor; r++ {
			if o.channels == 1 {
				out = append(out, frame[0])
			} else {
				out = append(out, frame[0], frame[1])
			}
		}
	}

	return []*media.AudioBlock{{
		PTS:        p.PTS,
		SampleRate: opusOutputRate,
		Channels:   o.channels,
		Samples:    out,
	}}, nil
}

// bandwidthRate is the sample rate the decoder writes for bandwidth b.
func bandwidthRate(b opus.Bandwidth) int {
	switch b {
	case opus.BandwidthNarrowband:
		return 8000
	case opus.BandwidthMediumband:
		return 12000
	case opus.BandwidthWideband:
		return 16000
	case opus.BandwidthSuperwideband:
		return 24000
	case opus.BandwidthFullband:
		return 48000
	}
	return 0
}

// Close releases nothing; the decoder holds no external resources.
func (o *Opus) Close() error { return nil }
