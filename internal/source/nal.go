package source

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/abema/go-mp4"
	"github.com/aler9/gortsplib/v2/pkg/codecs/h264"

	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/media"
)

var errNALLengthSize = errors.New("unsupported NAL length size")

// lengthPrefixed rewrites container samples carrying 4-byte length-prefixed
// NAL units into Annex B access units.
type lengthPrefixed struct {
	hevc   bool
	params [][]byte // prepended to keyframes
}

func (c *lengthPrefixed) keyframe(nalu []byte) bool {
	if len(nalu) == 0 {
		return false
	}
	if c.hevc {
		return demux.IsHEVCKeyframe(demux.HEVCNALType(nalu[0]))
	}
	return demux.IsKeyframe(nalu[0] & 0x1F)
}

// annexB converts one sample. key reports whether it holds a random access
// point; parameter sets are prepended when it does.
func (c *lengthPrefixed) annexB(sample []byte) (out []byte, key bool, err error) {
	nalus, err := h264.AVCCUnmarshal(sample)
	if err != nil {
		return nil, false, err
	}
	for _, n := range nalus {
		if c.keyframe(n) {
			key = true
			break
		}
	}
	if key && len(c.params) > 0 {
		nalus = append(append([][]byte{}, c.params...), nalus...)
	}
	out, err = h264.AnnexBMarshal(nalus)
	return out, key, err
}

// avcParams collects the parameter sets of an avcC record and fills the
// picture format from its first parseable SPS.
func avcParams(c *mp4.AVCDecoderConfiguration, si *media.StreamInfo) (*lengthPrefixed, error) {
	if c.LengthSizeMinusOne != 3 {
		return nil, errNALLengthSize
	}
	lp := &lengthPrefixed{}
	for _, ps := range c.SequenceParameterSets {
		lp.params = append(lp.params, ps.NALUnit)
		if sps, err := demux.ParseSPS(ps.NALUnit); err == nil && si.PixelFormat == media.PixelFormatUnknown {
			si.PixelFormat = sps.PixelFormat()
			if si.Width == 0 || si.Height == 0 {
				si.Width, si.Height = sps.Width, sps.Height
			}
		}
	}
	for _, ps := range c.PictureParameterSets {
		lp.params = append(lp.params, ps.NALUnit)
	}
	return lp, nil
}

// hevcParams is avcParams for an hvcC record. VPS, SPS and PPS are kept in
// record order.
func hevcParams(c *mp4.HvcC, si *media.StreamInfo) (*lengthPrefixed, error) {
	if c.LengthSizeMinusOne != 3 {
		return nil, errNALLengthSize
	}
	lp := &lengthPrefixed{hevc: true}
	for _, arr := range c.NaluArrays {
		for _, n := range arr.Nalus {
			lp.params = append(lp.params, n.NALUnit)
			if arr.NaluType != demux.HEVCNALSPS || si.PixelFormat != media.PixelFormatUnknown {
				continue
			}
			if sps, err := demux.ParseHEVCSPS(n.NALUnit); err == nil {
				si.PixelFormat = sps.PixelFormat()
				if si.Width == 0 || si.Height == 0 {
					si.Width, si.Height = sps.Width, sps.Height
				}
			}
		}
	}
	return lp, nil
}

// codecPrivate decodes the Matroska CodecPrivate of an H.264 or H.265
// track, which holds an avcC or hvcC record. A track without one carries its
// parameter sets in band.
func codecPrivate(codec string, priv []byte, si *media.StreamInfo) (*lengthPrefixed, error) {
	hevc := codec == media.CodecH265
	if len(priv) == 0 {
		return &lengthPrefixed{hevc: hevc}, nil
	}
	r := bytes.NewReader(priv)
	if hevc {
		var c mp4.HvcC
		if _, err := mp4.Unmarshal(r, uint64(len(priv)), &c, mp4.Context{}); err != nil {
			return nil, fmt.Errorf("hvcC: %w", err)
		}
		return hevcParams(&c, si)
	}
	c := mp4.AVCDecoderConfiguration{AnyTypeBox: mp4.AnyTypeBox{Type: mp4.BoxTypeAvcC()}}
	if _, err := mp4.Unmarshal(r, uint64(len(priv)), &c, mp4.Context{}); err != nil {
		return nil, fmt.Errorf("avcC: %w", err)
	}
	return avcParams(&c, si)
}
