package demux

import "github.com/zsiec/reel/internal/media"

// H.265/HEVC NAL unit type constants as defined in ITU-T H.265 Table 7-1.
const (
	HEVCNALBlaWLP     = 16
	HEVCNALIDRWRadl   = 19
	HEVCNALIDRNlp     = 20
	HEVCNALCraNut     = 21
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
)

// HEVCNALType extracts the NAL unit type from the first byte of an HEVC
// 2-byte NAL header: forbidden(1) | type(6) | layerID_high(1).
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// IsHEVCKeyframe returns true if the NAL type represents an HEVC random access
// point (BLA, IDR, or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

// IsHEVCVPS returns true if the NAL type is a Video Parameter Set.
func IsHEVCVPS(nalType byte) bool { return nalType == HEVCNALVPS }

// IsHEVCSPS returns true if the NAL type is a Sequence Parameter Set.
func IsHEVCSPS(nalType byte) bool { return nalType == HEVCNALSPS }

// IsHEVCPPS returns true if the NAL type is a Picture Parameter Set.
func IsHEVCPPS(nalType byte) bool { return nalType == HEVCNALPPS }

// ParseAnnexBHEVC parses an Annex B byte stream into NAL units using the
// HEVC 2-byte NAL header for type extraction. Start codes are identical
// to H.264 (00 00 01 or 00 00 00 01).
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 2, func(d []byte) byte { return HEVCNALType(d[0]) })
}

// HEVCSPSInfo holds the HEVC sequence parameters a renderer needs.
type HEVCSPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ChromaFormatIdc      byte
	BitDepthLumaMinus8   byte
	BitDepthChromaMinus8 byte
}

// PixelFormat maps the sequence parameters onto a renderer pixel format.
func (s HEVCSPSInfo) PixelFormat() media.PixelFormat {
	return yuvFormat(int(s.ChromaFormatIdc), int(s.BitDepthLumaMinus8)+8)
}

// ParseHEVCSPS parses an HEVC SPS NAL unit, 2-byte header included, up to
// the bit depths. Only the fields through the picture size are required;
// a unit truncated after them keeps 8-bit defaults.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errSPSTooShort
	}
	r := &spsReader{br: newBitReader(removeEmulationPrevention(nalu[2:]))}

	r.u(4) // sps_video_parameter_set_id
	subLayers := r.u(3)
	r.u(1) // sps_temporal_id_nesting_flag

	var info HEVCSPSInfo
	readProfileTierLevel(r, &info, subLayers)

	r.ue() // sps_seq_parameter_set_id
	chroma := r.ue()
	if chroma == 3 {
		r.u(1) // separate_colour_plane_flag
	}
	width, height := r.ue(), r.ue()
	if r.err != nil {
		return HEVCSPSInfo{}, r.err
	}
	info.ChromaFormatIdc = byte(chroma)
	info.Width, info.Height = int(width), int(height)

	if r.u(1) == 1 { // conformance_window_flag
		left, right, top, bottom := r.ue(), r.ue(), r.ue(), r.ue()
		if r.err == nil {
			sw, sh := chromaSubsampling(chroma)
			info.Width -= int((left + right) * sw)
			info.Height -= int((top + bottom) * sh)
		}
	}

	if luma := r.ue(); r.err == nil {
		info.BitDepthLumaMinus8 = byte(luma)
	}
	if depth := r.ue(); r.err == nil {
		info.BitDepthChromaMinus8 = byte(depth)
	}
	return info, nil
}

func chromaSubsampling(chromaFormatIdc uint) (w, h uint) {
	switch chromaFormatIdc {
	case 1:
		return 2, 2
	case 2:
		return 2, 1
	}
	return 1, 1
}

func readProfileTierLevel(r *spsReader, info *HEVCSPSInfo, subLayers uint) {
	r.u(2) // general_profile_space
	info.TierFlag = byte(r.u(1))
	info.ProfileIDC = byte(r.u(5))
	r.skip(32 + 48) // compatibility and constraint flags
	info.LevelIDC = byte(r.u(8))

	if subLayers == 0 {
		return
	}
	profilePresent := make([]bool, subLayers)
	levelPresent := make([]bool, subLayers)
	for i := range profilePresent {
		profilePresent[i] = r.u(1) == 1
		levelPresent[i] = r.u(1) == 1
	}
	r.skip(2 * int(8-subLayers)) // reserved_zero_2bits
	for i := range profilePresent {
		if profilePresent[i] {
			r.skip(88)
		}
		if levelPresent[i] {
			r.skip(8)
		}
	}
}
