package demux

import (
	"errors"

	"github.com/zsiec/reel/internal/media"
)

// H.264 NAL unit types (ITU-T H.264 Table 7-1) the demuxer cares about.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// SPSInfo holds the H.264 sequence parameters a renderer needs: cropped
// picture size, chroma subsampling and luma bit depth.
type SPSInfo struct {
	Width        int
	Height       int
	ProfileIDC   byte
	LevelIDC     byte
	ChromaFormat int
	BitDepth     int
}

// PixelFormat maps the sequence parameters onto a renderer pixel format.
// Only 4:2:0 content at 8 or 10 bits is representable.
func (s SPSInfo) PixelFormat() media.PixelFormat {
	return yuvFormat(s.ChromaFormat, s.BitDepth)
}

func yuvFormat(chroma, depth int) media.PixelFormat {
	if chroma != 1 {
		return media.PixelFormatUnknown
	}
	switch depth {
	case 8:
		return media.PixelFormatYUV420P
	case 10:
		return media.PixelFormatYUV420P10
	}
	return media.PixelFormatUnknown
}

var errSPSTooShort = errors.New("SPS data too short")

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errSPSTooShort
	}
	val := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for i := 0; i < n; i++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = (val << 1) | b
	}
	return val, nil
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errSPSTooShort
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

// spsReader reads RBSP fields in order and keeps the first error, so a run
// of fields can be read straight through and checked once.
type spsReader struct {
	br  *bitReader
	err error
}

func (r *spsReader) u(n int) uint {
	if r.err != nil {
		return 0
	}
	v, err := r.br.readBits(n)
	r.err = err
	return v
}

func (r *spsReader) ue() uint {
	if r.err != nil {
		return 0
	}
	v, err := r.br.readUE()
	r.err = err
	return v
}

func (r *spsReader) skip(n int) {
	for n > 0 {
		k := min(n, 32)
		r.u(k)
		n -= k
	}
}

// highProfile reports whether profile_idc carries the chroma/bit-depth
// extension of the SPS syntax.
func highProfile(idc uint) bool {
	switch idc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

func (r *spsReader) se() int {
	v := r.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (r *spsReader) skipScalingList(size int) {
	last, next := 8, 8
	for j := 0; j < size && r.err == nil; j++ {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// ParseSPS parses an H.264 SPS NAL unit (header byte included, start code
// excluded) up to the frame cropping fields.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}
	r := &spsReader{br: newBitReader(removeEmulationPrevention(nalu[1:]))}

	info := SPSInfo{ChromaFormat: 1, BitDepth: 8}
	profile := r.u(8)
	r.u(8) // constraint flags
	info.ProfileIDC = byte(profile)
	info.LevelIDC = byte(r.u(8))
	r.ue() // seq_parameter_set_id

	separatePlanes := false
	if highProfile(profile) {
		info.ChromaFormat = int(r.ue())
		if info.ChromaFormat == 3 {
			separatePlanes = r.u(1) == 1
		}
		info.BitDepth = int(r.ue()) + 8
		r.ue() // bit_depth_chroma_minus8
		r.u(1) // qpprime_y_zero_transform_bypass
		if r.u(1) == 1 {
			lists := 8
			if info.ChromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if r.u(1) == 0 {
					continue
				}
				if i < 6 {
					r.skipScalingList(16)
				} else {
					r.skipScalingList(64)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() { // pic_order_cnt_type
	case 0:
		r.ue()
	case 1:
		r.u(1)
		r.se()
		r.se()
		for n := r.ue(); n > 0 && r.err == nil; n-- {
			r.se()
		}
	}
	r.ue() // max_num_ref_frames
	r.u(1) // gaps_in_frame_num_allowed

	widthMbs := r.ue() + 1
	heightUnits := r.ue() + 1
	frameMbsOnly := r.u(1)
	if frameMbsOnly == 0 {
		r.u(1) // mb_adaptive_frame_field
	}
	r.u(1) // direct_8x8_inference

	var crop [4]uint // left, right, top, bottom
	if r.u(1) == 1 {
		for i := range crop {
			crop[i] = r.ue()
		}
	}
	if r.err != nil {
		return SPSInfo{}, r.err
	}

	subWidth, subHeight := uint(2), uint(2)
	switch {
	case separatePlanes, info.ChromaFormat == 0, info.ChromaFormat == 3:
		subWidth, subHeight = 1, 1
	case info.ChromaFormat == 2:
		subHeight = 1
	}
	cropY := subHeight * (2 - frameMbsOnly)
	info.Width = int(widthMbs*16 - subWidth*(crop[0]+crop[1]))
	info.Height = int(heightUnits*16*(2-frameMbsOnly) - cropY*(crop[2]+crop[3]))
	return info, nil
}

func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

// NALUnit is one H.264 or H.265 NAL unit.
type NALUnit struct {
	Type byte   // 5-bit for H.264, 6-bit for H.265
	Data []byte // NAL header and payload, no start code
}

// parseAnnexBGeneric splits an Annex B byte stream on 3- and 4-byte start
// codes. nalType extracts the codec-specific type from the NAL header and
// minNALBytes is the header length.
func parseAnnexBGeneric(data []byte, minNALBytes int, nalType func([]byte) byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end || end-pos.dataStart < minNALBytes {
			continue
		}
		nal := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nalType(nal), Data: nal})
	}
	return units
}

// ParseAnnexB splits an H.264 Annex B byte stream into NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// IsKeyframe reports whether nalType is an IDR slice.
func IsKeyframe(nalType byte) bool { return nalType == NALTypeIDR }

// IsSPS reports whether nalType is a sequence parameter set.
func IsSPS(nalType byte) bool { return nalType == NALTypeSPS }

// IsPPS reports whether nalType is a picture parameter set.
func IsPPS(nalType byte) bool { return nalType == NALTypePPS }
