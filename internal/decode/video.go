package decode

import (
	"errors"
	"fmt"

	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/media"
)

var errNoDimensions = errors.New("frame dimensions unknown")

// RawVideo slices uncompressed pictures into planes. When the stream does
// not name a pixel format, it is inferred from the payload size; RGB24 wins
// over YUV420P10, which has the same size.
type RawVideo struct {
	width, height int
	format        media.PixelFormat
}

// NewRawVideo builds a raw video decoder. Width and height are required.
func NewRawVideo(info media.StreamInfo) (VideoDecoder, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("rawvideo: %w", errNoDimensions)
	}
	return &RawVideo{width: info.Width, height: info.Height, format: info.PixelFormat}, nil
}

func (d *RawVideo) formatFor(size int) (media.PixelFormat, error) {
	if d.format != media.PixelFormatUnknown {
		if want := d.format.FrameSize(d.width, d.height); size != want {
			return 0, fmt.Errorf("rawvideo: payload is %d bytes, %s %dx%d needs %d",
				size, d.format, d.width, d.height, want)
		}
		return d.format, nil
	}
	for _, f := range []media.PixelFormat{media.PixelFormatRGB24, media.PixelFormatYUV420P, media.PixelFormatYUV420P10} {
		if f.FrameSize(d.width, d.height) == size {
			return f, nil
		}
	}
	return 0, fmt.Errorf("rawvideo: %d bytes matches no format at %dx%d", size, d.width, d.height)
}

// Decode returns one frame whose planes alias the packet payload.
func (d *RawVideo) Decode(p *media.Packet) ([]*media.VideoFrame, error) {
	f, err := d.formatFor(len(p.Payload))
	if err != nil {
		return nil, err
	}
	frame := &media.VideoFrame{
		PTS:      p.PTS,
		Width:    d.width,
		Height:   d.height,
		Format:   f,
		Keyframe: true,
	}

	buf := p.Payload
	switch f {
	case media.PixelFormatRGB24:
		frame.Planes = [][]byte{buf}
		frame.Strides = []int{d.width * 3}
	default:
		bps := 1
		if f == media.PixelFormatYUV420P10 {
			bps = 2
		}
		cw, ch := (d.width+1)/2, (d.height+1)/2
		luma := d.width * d.height * bps
		chroma := cw * ch * bps
		frame.Planes = [][]byte{buf[:luma], buf[luma : luma+chroma], buf[luma+chroma : luma+2*chroma]}
		frame.Strides = []int{d.width * bps, cw * bps, cw * bps}
	}
	return []*media.VideoFrame{frame}, nil
}

func (d *RawVideo) Close() error { return nil }

// ParamProbe is a metadata-only decoder for H.264 and H.265. It tracks the
// picture size and pixel format from in-band parameter sets and emits one
// frame without planes per access unit, so that presentation timing works
// even when no pixel decoder is registered.
type ParamProbe struct {
	hevc          bool
	width, height int
	format        media.PixelFormat
}

// NewH264Probe builds a metadata-only H.264 decoder.
func NewH264Probe(info media.StreamInfo) (VideoDecoder, error) {
	return &ParamProbe{width: info.Width, height: info.Height, format: info.PixelFormat}, nil
}

// NewH265Probe builds a metadata-only H.265 decoder.
func NewH265Probe(info media.StreamInfo) (VideoDecoder, error) {
	return &ParamProbe{hevc: true, width: info.Width, height: info.Height, format: info.PixelFormat}, nil
}

// Decode inspects one Annex B access unit.
func (d *ParamProbe) Decode(p *media.Packet) ([]*media.VideoFrame, error) {
	var nalus []demux.NALUnit
	if d.hevc {
		nalus = demux.ParseAnnexBHEVC(p.Payload)
	} else {
		nalus = demux.ParseAnnexB(p.Payload)
	}
	if len(nalus) == 0 {
		return nil, errors.New("no NAL units in access unit")
	}

	key := p.Keyframe
	for _, n := range nalus {
		switch {
		case d.hevc && demux.IsHEVCSPS(n.Type):
			if sps, err := demux.ParseHEVCSPS(n.Data); err == nil {
				d.width, d.height, d.format = sps.Width, sps.Height, sps.PixelFormat()
			}
		case d.hevc && demux.IsHEVCKeyframe(n.Type):
			key = true
		case !d.hevc && demux.IsSPS(n.Type):
			if sps, err := demux.ParseSPS(n.Data); err == nil {
				d.width, d.height, d.format = sps.Width, sps.Height, sps.PixelFormat()
			}
		case !d.hevc && demux.IsKeyframe(n.Type):
			key = true
		}
	}
	if d.width == 0 || d.height == 0 {
		return nil, errNoDimensions
	}
	return []*media.VideoFrame{{
		PTS:      p.PTS,
		Width:    d.width,
		Height:   d.height,
		Format:   d.format,
		Keyframe: key,
	}}, nil
}

func (d *ParamProbe) Close() error { return nil }
