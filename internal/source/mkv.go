package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"

	"github.com/zsiec/reel/internal/media"
)

// Matroska codec IDs and the codec names they map to.
var matroskaCodecs = map[string]struct {
	kind  media.StreamKind
	codec string
}{
	"V_UNCOMPRESSED":   {media.KindVideo, media.CodecRawVideo},
	"V_MPEG4/ISO/AVC":  {media.KindVideo, media.CodecH264},
	"V_MPEGH/ISO/HEVC": {media.KindVideo, media.CodecH265},
	"A_OPUS":           {media.KindAudio, media.CodecOpus},
	"A_AAC":            {media.KindAudio, media.CodecAAC},
	"S_TEXT/UTF8":      {media.KindSubtitle, media.CodecText},
}

const defaultTimecodeScale = 1_000_000 // ns per tick

type mkvDocument struct {
	Header  webm.EBMLHeader `ebml:"EBML"`
	Segment webm.Segment    `ebml:"Segment"`
}

// Matroska is a Matroska or WebM source. The whole segment is parsed on
// open; blocks are returned in timestamp order across tracks.
type Matroska struct {
	stats   *counter
	streams []media.StreamInfo
	packets []*media.Packet
	next    int

	closed atomic.Bool
}

// NewMatroska parses f. Tracks with a codec outside the supported set are
// skipped. f is closed once parsing finishes.
func NewMatroska(f io.ReadCloser, name string, opts Options) (*Matroska, error) {
	opts.defaults()
	log := opts.Log.With("component", "matroska", "input", name)

	s := &Matroska{stats: newCounter(f, name)}
	var doc mkvDocument
	err := ebml.Unmarshal(s.stats, &doc)
	f.Close()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, media.NewSetupError("probe", "", fmt.Errorf("parse matroska: %w", err))
	}

	byNumber := make(map[uint64]int)
	nals := make(map[int]*lengthPrefixed)
	for _, te := range doc.Segment.Tracks.TrackEntry {
		c, ok := matroskaCodecs[te.CodecID]
		if !ok {
			log.Info("skipping track", "track", te.TrackNumber, "codec", te.CodecID)
			continue
		}
		si := media.StreamInfo{Index: len(s.streams), Kind: c.kind, Codec: c.codec}
		if te.Video != nil {
			si.Width, si.Height = int(te.Video.PixelWidth), int(te.Video.PixelHeight)
		}
		if te.Audio != nil {
			si.SampleRate = int(te.Audio.SamplingFrequency)
			si.Channels = int(te.Audio.Channels)
			si.SampleFormat = media.SampleFormatS16
		}
		if c.codec == media.CodecH264 || c.codec == media.CodecH265 {
			nal, err := codecPrivate(c.codec, te.CodecPrivate, &si)
			if err != nil {
				log.Info("skipping track", "track", te.TrackNumber, "codec", te.CodecID, "error", err)
				continue
			}
			nals[si.Index] = nal
		}
		byNumber[uint64(te.TrackNumber)] = si.Index
		s.streams = append(s.streams, si)
	}
	if len(s.streams) == 0 {
		return nil, media.NewSetupError("probe", "", errors.New("no playable tracks"))
	}

	scale := int64(doc.Segment.Info.TimecodeScale)
	if scale == 0 {
		scale = defaultTimecodeScale
	}
	add := func(base int64, b ebml.Block, dur int64) {
		idx, ok := byNumber[uint64(b.TrackNumber)]
		if !ok {
			return
		}
		pts := (base + int64(b.Timecode)) * scale / 1000
		nal := nals[idx]
		for _, frame := range b.Data {
			key := b.Keyframe
			if nal != nil {
				payload, nalKey, err := nal.annexB(frame)
				if err != nil {
					log.Debug("dropping malformed frame", "track", b.TrackNumber, "error", err)
					continue
				}
				frame, key = payload, key || nalKey
			}
			s.packets = append(s.packets, &media.Packet{
				StreamIndex: idx,
				Kind:        s.streams[idx].Kind,
				PTS:         pts,
				DTS:         pts,
				Duration:    dur,
				Keyframe:    key,
				Payload:     frame,
			})
		}
	}
	for _, cl := range doc.Segment.Cluster {
		base := int64(cl.Timecode)
		for _, b := range cl.SimpleBlock {
			add(base, b, 0)
		}
		for _, bg := range cl.BlockGroup {
			add(base, bg.Block, blockTicks(bg.BlockDuration)*scale/1000)
		}
	}
	sort.SliceStable(s.packets, func(i, j int) bool { return s.packets[i].PTS < s.packets[j].PTS })

	log.Info("probed matroska", "streams", len(s.streams), "packets", len(s.packets))
	return s, nil
}

// blockTicks reads an optional BlockDuration element.
func blockTicks(v any) int64 {
	switch d := v.(type) {
	case uint64:
		return int64(d)
	case *uint64:
		if d != nil {
			return int64(*d)
		}
	}
	return 0
}

// Streams returns the playable tracks.
func (s *Matroska) Streams() []media.StreamInfo {
	out := make([]media.StreamInfo, len(s.streams))
	copy(out, s.streams)
	return out
}

// ReadPacket returns the next block frame.
func (s *Matroska) ReadPacket(ctx context.Context) (*media.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, media.ErrClosed
	}
	if s.next >= len(s.packets) {
		return nil, io.EOF
	}
	pkt := s.packets[s.next]
	s.packets[s.next] = nil
	s.next++
	return pkt, nil
}

// Stats reports the bytes parsed at open.
func (s *Matroska) Stats() Stats { return s.stats.Stats() }

// Close ends the packet sequence. The file itself is closed after parsing.
func (s *Matroska) Close() error {
	s.closed.Store(true)
	return nil
}
