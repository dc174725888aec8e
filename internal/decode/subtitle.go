package decode

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zsiec/ccx"

	"github.com/zsiec/reel/internal/media"
)

// dtvccChannelBase offsets CEA-708 service numbers so they do not collide
// with CEA-608 channels 1-4 in SubtitleEvent.Channel.
const dtvccChannelBase = 6

// Captions decodes CEA-608 and CEA-708 caption data carried in video SEI
// NAL units. Every change of displayed text becomes an event; an Erase
// Displayed Memory command becomes an empty (clearing) event.
type Captions struct {
	dec608   map[int]*ccx.CEA608Decoder
	svc708   map[int]*ccx.CEA708Service
	dtvccBuf []byte

	packets         int64
	lastCCCtrl      [2][2]byte
	lastCCWasCtrl   [2]bool
	lastCCCtrlFrame [2]int64
}

// NewCaptions builds a caption decoder for the synthetic caption stream.
func NewCaptions(media.StreamInfo) (SubtitleDecoder, error) {
	c := &Captions{
		dec608: make(map[int]*ccx.CEA608Decoder, 4),
		svc708: make(map[int]*ccx.CEA708Service, 6),
	}
	for ch := 1; ch <= 4; ch++ {
		c.dec608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		c.svc708[svc] = ccx.NewCEA708Service()
	}
	return c, nil
}

// isEDM reports whether the pair is Erase Displayed Memory on any channel
// or field.
func isEDM(cc1, cc2 byte) bool {
	return cc1&0xF6 == 0x14 && cc2 == 0x2C
}

// Decode consumes one SEI NAL unit.
func (c *Captions) Decode(p *media.Packet) ([]*media.SubtitleEvent, error) {
	c.packets++
	cd := ccx.ExtractCaptions(p.Payload)
	if cd == nil || (len(cd.CC608Pairs) == 0 && len(cd.DTVCC) == 0) {
		return nil, errNoCaptions
	}

	var events []*media.SubtitleEvent
	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]

		// Control codes are sent twice for robustness; act on the first.
		isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
		f := pair.Field
		if isCtrl {
			cp := [2]byte{cc1, cc2}
			gap := c.packets - c.lastCCCtrlFrame[f]
			if c.lastCCWasCtrl[f] && c.lastCCCtrl[f] == cp && gap <= 2 {
				c.lastCCWasCtrl[f] = false
				continue
			}
			c.lastCCCtrl[f] = cp
			c.lastCCWasCtrl[f] = true
			c.lastCCCtrlFrame[f] = c.packets
		} else {
			c.lastCCWasCtrl[f] = false
		}

		dec := c.dec608[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(cc1, cc2)
		switch {
		case isCtrl && isEDM(cc1, cc2):
			events = append(events, &media.SubtitleEvent{PTS: p.PTS, Channel: pair.Channel})
		case text != "":
			events = append(events, &media.SubtitleEvent{PTS: p.PTS, Text: text, Channel: pair.Channel})
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			events = c.drainDTVCC(events, p.PTS)
			c.dtvccBuf = c.dtvccBuf[:0]
		}
		c.dtvccBuf = append(c.dtvccBuf, t.Data[0], t.Data[1])
	}
	return events, nil
}

func (c *Captions) drainDTVCC(events []*media.SubtitleEvent, pts int64) []*media.SubtitleEvent {
	if len(c.dtvccBuf) < 1 {
		return events
	}
	size := ccx.DTVCCPacketSize(c.dtvccBuf[0])
	if len(c.dtvccBuf) < size {
		return events
	}
	for _, block := range ccx.ParseDTVCCPacket(c.dtvccBuf[:size]) {
		svc := c.svc708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			events = append(events, &media.SubtitleEvent{
				PTS:     pts,
				Text:    text,
				Channel: block.ServiceNum + dtvccChannelBase,
			})
		}
	}
	c.dtvccBuf = c.dtvccBuf[size:]
	return events
}

func (c *Captions) Close() error { return nil }

var (
	errNoCaptions  = errors.New("no caption data in SEI")
	errInvalidUTF8 = errors.New("subtitle is not valid UTF-8")
)

// Text decodes plain UTF-8 subtitle packets. An empty packet clears the
// display.
type Text struct{}

// NewText builds a UTF-8 subtitle decoder.
func NewText(media.StreamInfo) (SubtitleDecoder, error) { return Text{}, nil }

// Decode returns exactly one event per packet.
func (Text) Decode(p *media.Packet) ([]*media.SubtitleEvent, error) {
	if !utf8.Valid(p.Payload) {
		return nil, errInvalidUTF8
	}
	return []*media.SubtitleEvent{{
		PTS:      p.PTS,
		Duration: time.Duration(p.Duration) * time.Microsecond,
		Text:     strings.TrimRight(string(p.Payload), "\x00\r\n"),
	}}, nil
}

func (Text) Close() error { return nil }
