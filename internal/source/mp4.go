package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/abema/go-mp4"

	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/media"
)

// File is the random-access input an MP4 or Matroska source reads from.
type File interface {
	io.ReadSeeker
	io.ReaderAt
	io.Closer
}

type mp4Track struct {
	index int
	kind  media.StreamKind
	nal   *lengthPrefixed
}

type mp4Sample struct {
	track  *mp4Track
	offset int64
	size   uint32
	pts    int64
	dts    int64
}

// MP4 is an ISO BMFF source. Sample tables are read up front and samples
// are returned in decode order across tracks.
type MP4 struct {
	*counter
	f       File
	streams []media.StreamInfo
	samples []mp4Sample
	next    int

	closeOnce sync.Once
	closeErr  error
}

// NewMP4 parses the movie box of f. H.264 and AAC tracks are exposed, every
// other track is skipped. f is closed if parsing fails.
func NewMP4(f File, name string, opts Options) (*MP4, error) {
	opts.defaults()
	log := opts.Log.With("component", "mp4", "input", name)

	s := &MP4{counter: newCounter(f, name), f: f}
	if err := s.parse(log); err != nil {
		f.Close()
		return nil, media.NewSetupError("probe", "", err)
	}
	log.Info("probed mp4", "streams", len(s.streams), "samples", len(s.samples))
	return s, nil
}

type trakExtras struct {
	avcC      *mp4.AVCDecoderConfiguration
	fixedSize uint32
}

// extras collects what mp4.Probe does not report: parameter sets from avcC
// and the constant sample size of stsz.
func extras(r io.ReadSeeker) (map[uint32]trakExtras, error) {
	traks, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeTrak()})
	if err != nil {
		return nil, err
	}
	stbl := func(tail ...mp4.BoxType) mp4.BoxPath {
		return append(mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl()}, tail...)
	}
	out := make(map[uint32]trakExtras, len(traks))
	for _, trak := range traks {
		bips, err := mp4.ExtractBoxesWithPayload(r, trak, []mp4.BoxPath{
			{mp4.BoxTypeTkhd()},
			stbl(mp4.BoxTypeStsd(), mp4.BoxTypeAvc1(), mp4.BoxTypeAvcC()),
			stbl(mp4.BoxTypeStsz()),
		})
		if err != nil {
			return nil, err
		}
		var id uint32
		var ex trakExtras
		for _, bip := range bips {
			switch box := bip.Payload.(type) {
			case *mp4.Tkhd:
				id = box.TrackID
			case *mp4.AVCDecoderConfiguration:
				ex.avcC = box
			case *mp4.Stsz:
				ex.fixedSize = box.SampleSize
			}
		}
		out[id] = ex
	}
	return out, nil
}

func (s *MP4) parse(log *slog.Logger) error {
	info, err := mp4.Probe(s.f)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	ex, err := extras(s.f)
	if err != nil {
		return fmt.Errorf("sample descriptions: %w", err)
	}

	for _, tr := range info.Tracks {
		if tr.Encrypted || tr.Timescale == 0 {
			continue
		}
		t := &mp4Track{index: len(s.streams)}
		si := media.StreamInfo{Index: t.index}

		switch {
		case tr.Codec == mp4.CodecAVC1 && tr.AVC != nil:
			t.kind = media.KindVideo
			si.Kind, si.Codec = media.KindVideo, demux.CodecH264
			si.Width, si.Height = int(tr.AVC.Width), int(tr.AVC.Height)
			t.nal = &lengthPrefixed{}
			if c := ex[tr.TrackID].avcC; c != nil {
				nal, err := avcParams(c, &si)
				if err != nil {
					log.Info("skipping track", "track", tr.TrackID, "reason", err)
					continue
				}
				t.nal = nal
			} else if tr.AVC.LengthSize != 4 {
				log.Info("skipping track", "track", tr.TrackID, "reason", errNALLengthSize)
				continue
			}

		case tr.Codec == mp4.CodecMP4A && tr.MP4A != nil:
			t.kind = media.KindAudio
			si.Kind, si.Codec = media.KindAudio, demux.CodecAAC
			si.SampleRate = int(tr.Timescale)
			si.Channels = int(tr.MP4A.ChannelCount)
			si.SampleFormat = media.SampleFormatS16

		default:
			log.Info("skipping track", "track", tr.TrackID, "reason", "unsupported codec")
			continue
		}

		s.streams = append(s.streams, si)
		s.addSamples(t, tr, ex[tr.TrackID].fixedSize)
	}

	if len(s.streams) == 0 {
		return errors.New("no playable tracks")
	}
	sort.SliceStable(s.samples, func(i, j int) bool {
		if s.samples[i].dts != s.samples[j].dts {
			return s.samples[i].dts < s.samples[j].dts
		}
		return s.samples[i].offset < s.samples[j].offset
	})
	return nil
}

func (s *MP4) addSamples(t *mp4Track, tr *mp4.Track, fixedSize uint32) {
	scale := int64(tr.Timescale)
	var decodeTime int64
	si := 0
	for _, chunk := range tr.Chunks {
		offset := int64(chunk.DataOffset)
		for n := uint32(0); n < chunk.SamplesPerChunk && si < len(tr.Samples); n++ {
			smp := tr.Samples[si]
			size := smp.Size
			if size == 0 {
				size = fixedSize
			}
			s.samples = append(s.samples, mp4Sample{
				track:  t,
				offset: offset,
				size:   size,
				dts:    decodeTime * 1_000_000 / scale,
				pts:    (decodeTime + smp.CompositionTimeOffset) * 1_000_000 / scale,
			})
			offset += int64(size)
			decodeTime += int64(smp.TimeDelta)
			si++
		}
	}
}

// Streams returns the playable tracks.
func (s *MP4) Streams() []media.StreamInfo {
	out := make([]media.StreamInfo, len(s.streams))
	copy(out, s.streams)
	return out
}

// ReadPacket returns the next sample in decode order. H.264 samples are
// converted to Annex B.
func (s *MP4) ReadPacket(ctx context.Context) (*media.Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.next >= len(s.samples) {
			return nil, io.EOF
		}
		smp := s.samples[s.next]
		s.next++

		buf := make([]byte, smp.size)
		if _, err := s.counter.ReadAt(buf, smp.offset); err != nil {
			return nil, fmt.Errorf("read sample at %d: %w", smp.offset, err)
		}

		pkt := &media.Packet{
			StreamIndex: smp.track.index,
			Kind:        smp.track.kind,
			PTS:         smp.pts,
			DTS:         smp.dts,
			Keyframe:    true,
			Payload:     buf,
		}
		if smp.track.nal != nil {
			payload, key, err := smp.track.nal.annexB(buf)
			if err != nil {
				// a broken sample is dropped, the next one may decode
				continue
			}
			pkt.Payload, pkt.Keyframe = payload, key
		}
		return pkt, nil
	}
}

// Close closes the file. It is safe to call more than once.
func (s *MP4) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.f.Close() })
	return s.closeErr
}
