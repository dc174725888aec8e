package demux

import (
	"errors"
	"fmt"
	"time"

	"github.com/aler9/gortsplib/v2/pkg/bits"
)

// opusIdentifier is the registration descriptor format identifier that marks
// a private-data elementary stream as Opus.
const opusIdentifier = uint32('O')<<24 | uint32('p')<<16 | uint32('u')<<8 | uint32('s')

var errOpusPrefix = errors.New("invalid Opus control header prefix")

// opusControlHeader precedes every Opus access unit in a transport stream
// (ETSI TS 102 366 style framing).
type opusControlHeader struct {
	PayloadSize uint64
	StartTrim   uint16
	EndTrim     uint16
}

func (h *opusControlHeader) unmarshal(buf []byte) (int, error) {
	pos := 0

	if err := bits.HasSpace(buf, pos, 16); err != nil {
		return 0, err
	}
	if prefix := bits.ReadBitsUnsafe(buf, &pos, 11); prefix != 0x3ff {
		return 0, errOpusPrefix
	}

	startTrim := bits.ReadFlagUnsafe(buf, &pos)
	endTrim := bits.ReadFlagUnsafe(buf, &pos)
	extension := bits.ReadFlagUnsafe(buf, &pos)
	pos += 2 // reserved

	h.PayloadSize = 0
	for {
		next, err := bits.ReadBits(buf, &pos, 8)
		if err != nil {
			return 0, err
		}
		h.PayloadSize += next
		if next != 0xFF {
			break
		}
	}

	if startTrim {
		if err := bits.HasSpace(buf, pos, 16); err != nil {
			return 0, err
		}
		pos += 3
		h.StartTrim = uint16(bits.ReadBitsUnsafe(buf, &pos, 13))
	}
	if endTrim {
		if err := bits.HasSpace(buf, pos, 16); err != nil {
			return 0, err
		}
		pos += 3
		h.EndTrim = uint16(bits.ReadBitsUnsafe(buf, &pos, 13))
	}
	if extension {
		n, err := bits.ReadBits(buf, &pos, 8)
		if err != nil {
			return 0, err
		}
		skip := int(8 * n)
		if err := bits.HasSpace(buf, pos, skip); err != nil {
			return 0, err
		}
		pos += skip
	}

	return pos / 8, nil
}

// SplitOpus splits the payload of an Opus PES packet into its access units.
func SplitOpus(buf []byte) ([][]byte, error) {
	var aus [][]byte
	for len(buf) > 0 {
		var h opusControlHeader
		n, err := h.unmarshal(buf)
		if err != nil {
			return aus, fmt.Errorf("opus control header: %w", err)
		}
		buf = buf[n:]
		if uint64(len(buf)) < h.PayloadSize {
			return aus, fmt.Errorf("opus access unit truncated: need %d bytes, have %d", h.PayloadSize, len(buf))
		}
		aus = append(aus, buf[:h.PayloadSize])
		buf = buf[h.PayloadSize:]
	}
	return aus, nil
}

// OpusDuration returns the playback duration of one Opus packet, computed
// from its TOC byte (RFC 6716 section 3.1).
func OpusDuration(pkt []byte) time.Duration {
	if len(pkt) == 0 {
		return 0
	}
	config := pkt[0] >> 3

	var frame time.Duration
	switch {
	case config < 12:
		frame = []time.Duration{10, 20, 40, 60}[config%4] * time.Millisecond
	case config < 16:
		frame = []time.Duration{10, 20}[config%2] * time.Millisecond
	default:
		frame = []time.Duration{2500, 5000, 10000, 20000}[config%4] * time.Microsecond
	}

	frames := 1
	switch pkt[0] & 0x03 {
	case 1, 2:
		frames = 2
	case 3:
		if len(pkt) < 2 {
			return 0
		}
		frames = int(pkt[1] & 0x3F)
	}
	return frame * time.Duration(frames)
}
