package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aler9/gortsplib/v2/pkg/codecs/mpeg4audio"
	"github.com/asticode/go-astits"
	"github.com/zsiec/ccx"

	"github.com/zsiec/reel/internal/media"
)

// Codec names used in media.StreamInfo.Codec for transport stream content.
const (
	CodecH264    = media.CodecH264
	CodecH265    = media.CodecH265
	CodecAAC     = media.CodecAAC
	CodecOpus    = media.CodecOpus
	CodecCEA608  = media.CodecCEA608
	opusRate     = 48000
	opusChannels = 2

	aacSamplesPerAU = 1024

	// maxProbeData bounds how much demuxed data Probe inspects before it
	// settles on the stream list.
	maxProbeData = 4096

	// maxConsecutiveErrors bounds how many corrupt reads in a row are
	// skipped before the stream is considered broken.
	maxConsecutiveErrors = 64
)

var (
	// ErrNoProgram is returned by Probe when no PMT was found.
	ErrNoProgram = errors.New("no program map table found")
)

type tsTrack struct {
	pid   uint16
	index int
	kind  media.StreamKind
	codec string
	sized bool
}

// Option configures a Demuxer.
type Option func(*Demuxer)

// WithCaptions declares the caption subtitle stream for H.264/H.265 video
// even when Probe saw no caption SEI.
func WithCaptions() Option {
	return func(d *Demuxer) { d.forceCaptions = true }
}

// Demuxer splits an MPEG-TS byte stream into per-stream packets. Video PES
// payloads become one Annex B access unit per packet, AAC and Opus PES
// payloads one packet per access unit, and CEA-608/708 caption SEI carried
// in the video becomes packets of a synthetic subtitle stream.
type Demuxer struct {
	log  *slog.Logger
	ctx  context.Context
	dmx  *astits.Demuxer
	hevc bool

	streams  []media.StreamInfo
	byPID    map[uint16]*tsTrack
	video    *tsTrack
	captions *tsTrack

	forceCaptions bool
	pmtDone       bool
	frozen        bool
	probed        int
	pending       []*media.Packet
	clock         timeDecoder
}

// NewDemuxer creates a Demuxer that reads 188-byte MPEG-TS packets from r.
// If log is nil, slog.Default() is used.
func NewDemuxer(ctx context.Context, r io.Reader, log *slog.Logger, opts ...Option) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	d := &Demuxer{
		log:   log.With("component", "demux"),
		ctx:   ctx,
		dmx:   astits.NewDemuxer(ctx, r, astits.DemuxerOptPacketSize(188)),
		byPID: make(map[uint16]*tsTrack),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Probe reads until the program map table has been parsed and the video
// parameters are known, so that Streams is complete. Packets read while
// probing are kept and returned by ReadPacket.
func (d *Demuxer) Probe() error {
	for !d.ready() && d.probed < maxProbeData {
		if err := d.next(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		d.probed++
	}
	if !d.pmtDone {
		return ErrNoProgram
	}
	if d.video != nil && d.captions == nil && d.forceCaptions {
		d.addCaptions()
	}
	d.frozen = true
	d.log.Info("probed transport stream", "streams", len(d.streams))
	return nil
}

func (d *Demuxer) ready() bool {
	if !d.pmtDone {
		return false
	}
	for _, t := range d.byPID {
		if !t.sized {
			return false
		}
	}
	return true
}

// Streams returns the elementary streams found by Probe.
func (d *Demuxer) Streams() []media.StreamInfo {
	out := make([]media.StreamInfo, len(d.streams))
	copy(out, d.streams)
	return out
}

// ReadPacket returns the next packet in stream order, or io.EOF once the
// transport stream is exhausted.
func (d *Demuxer) ReadPacket() (*media.Packet, error) {
	for len(d.pending) == 0 {
		if err := d.next(); err != nil {
			return nil, err
		}
	}
	pkt := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]
	return pkt, nil
}

func (d *Demuxer) next() error {
	for failures := 0; ; failures++ {
		data, err := d.dmx.NextData()
		if err == nil {
			d.handle(data)
			return nil
		}
		if d.ctx.Err() != nil {
			return d.ctx.Err()
		}
		if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
			return io.EOF
		}
		if errors.Is(err, media.ErrClosed) {
			return err
		}
		if failures >= maxConsecutiveErrors {
			return fmt.Errorf("demux: %w", err)
		}
		d.log.Debug("skipping corrupt packet", "error", err)
	}
}

func (d *Demuxer) handle(data *astits.DemuxerData) {
	if data.PMT != nil {
		d.handlePMT(data.PMT)
		return
	}
	if data.PES == nil || len(data.PES.Data) == 0 {
		return
	}

	t, ok := d.byPID[data.PID]
	if !ok {
		return
	}
	pts, dts := d.timestamps(data.PES)

	switch t.codec {
	case CodecH264, CodecH265:
		d.handleVideo(t, data.PES.Data, pts, dts)
	case CodecAAC:
		d.handleAAC(t, data.PES.Data, pts)
	case CodecOpus:
		d.handleOpus(t, data.PES.Data, pts)
	}
}

func (d *Demuxer) handlePMT(pmt *astits.PMTData) {
	if d.pmtDone {
		return
	}
	d.pmtDone = true

	for _, es := range pmt.ElementaryStreams {
		switch es.StreamType {
		case astits.StreamTypeH264Video, astits.StreamTypeH265Video:
			if d.video != nil {
				continue
			}
			codec := CodecH264
			if es.StreamType == astits.StreamTypeH265Video {
				codec = CodecH265
				d.hevc = true
			}
			d.video = d.addTrack(es.ElementaryPID, media.KindVideo, codec)
			d.log.Info("found video PID", "pid", es.ElementaryPID, "codec", codec)

		case astits.StreamTypeAACAudio:
			d.addTrack(es.ElementaryPID, media.KindAudio, CodecAAC)
			d.log.Info("found audio PID", "pid", es.ElementaryPID, "codec", CodecAAC)

		case astits.StreamTypePrivateData:
			if !hasRegistration(es, opusIdentifier) {
				continue
			}
			t := d.addTrack(es.ElementaryPID, media.KindAudio, CodecOpus)
			info := &d.streams[t.index]
			info.SampleRate = opusRate
			info.Channels = opusChannels
			info.SampleFormat = media.SampleFormatS16
			t.sized = true
			d.log.Info("found audio PID", "pid", es.ElementaryPID, "codec", CodecOpus)
		}
	}
}

func hasRegistration(es *astits.PMTElementaryStream, id uint32) bool {
	for _, desc := range es.ElementaryStreamDescriptors {
		if desc.Registration != nil && desc.Registration.FormatIdentifier == id {
			return true
		}
	}
	return false
}

func (d *Demuxer) addTrack(pid uint16, kind media.StreamKind, codec string) *tsTrack {
	t := &tsTrack{pid: pid, index: len(d.streams), kind: kind, codec: codec}
	d.streams = append(d.streams, media.StreamInfo{Index: t.index, Kind: kind, Codec: codec})
	d.byPID[pid] = t
	return t
}

func (d *Demuxer) addCaptions() {
	d.captions = &tsTrack{index: len(d.streams), kind: media.KindSubtitle, codec: CodecCEA608, sized: true}
	d.streams = append(d.streams, media.StreamInfo{
		Index: d.captions.index,
		Kind:  media.KindSubtitle,
		Codec: CodecCEA608,
	})
	d.log.Info("found captions in video SEI")
}

func (d *Demuxer) timestamps(pes *astits.PESData) (pts, dts int64) {
	if pes.Header == nil || pes.Header.OptionalHeader == nil || pes.Header.OptionalHeader.PTS == nil {
		return 0, 0
	}
	oh := pes.Header.OptionalHeader
	pts = d.clock.decode(oh.PTS.Base)
	dts = pts
	if oh.DTS != nil {
		delay := (oh.PTS.Base - oh.DTS.Base) & tsMaximum
		dts = pts - delay*1_000_000/tsClockRate
	}
	return pts, dts
}

func (d *Demuxer) emit(t *tsTrack, pts, dts int64, keyframe bool, payload []byte) {
	d.pending = append(d.pending, &media.Packet{
		StreamIndex: t.index,
		Kind:        t.kind,
		PTS:         pts,
		DTS:         dts,
		Keyframe:    keyframe,
		Payload:     payload,
	})
}

func (d *Demuxer) handleVideo(t *tsTrack, data []byte, pts, dts int64) {
	var nalus []NALUnit
	if d.hevc {
		nalus = ParseAnnexBHEVC(data)
	} else {
		nalus = ParseAnnexB(data)
	}
	if len(nalus) == 0 {
		return
	}

	keyframe := false
	var captions [][]byte

	for _, nalu := range nalus {
		if d.hevc {
			switch {
			case IsHEVCSPS(nalu.Type):
				if info, err := ParseHEVCSPS(nalu.Data); err == nil {
					d.setVideoSize(t, info.Width, info.Height, info.PixelFormat())
				}
			case IsHEVCKeyframe(nalu.Type):
				keyframe = true
			case nalu.Type == HEVCNALSEIPrefix && len(nalu.Data) > 2:
				captions = d.appendCaptions(captions, nalu.Data)
			}
			continue
		}

		switch {
		case IsSPS(nalu.Type):
			keyframe = true
			if info, err := ParseSPS(nalu.Data); err == nil {
				d.setVideoSize(t, info.Width, info.Height, info.PixelFormat())
			}
		case IsKeyframe(nalu.Type):
			keyframe = true
		case nalu.Type == NALTypeSEI:
			captions = d.appendCaptions(captions, nalu.Data)
		}
	}

	d.emit(t, pts, dts, keyframe, data)

	if len(captions) == 0 {
		return
	}
	if d.captions == nil {
		if d.frozen {
			return
		}
		d.addCaptions()
	}
	for _, sei := range captions {
		d.emit(d.captions, pts, pts, false, sei)
	}
}

func (d *Demuxer) appendCaptions(dst [][]byte, sei []byte) [][]byte {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil || (len(cd.CC608Pairs) == 0 && len(cd.DTVCC) == 0) {
		return dst
	}
	return append(dst, sei)
}

func (d *Demuxer) setVideoSize(t *tsTrack, w, h int, f media.PixelFormat) {
	info := &d.streams[t.index]
	if t.sized && info.Width == w && info.Height == h {
		return
	}
	info.Width, info.Height, info.PixelFormat = w, h, f
	t.sized = true
	d.log.Debug("video parameters", "width", w, "height", h, "format", f)
}

func (d *Demuxer) handleAAC(t *tsTrack, data []byte, pts int64) {
	var pkts mpeg4audio.ADTSPackets
	if err := pkts.Unmarshal(data); err != nil {
		d.log.Debug("skipping undecodable ADTS", "error", err)
		return
	}

	for i, pkt := range pkts {
		if !t.sized {
			info := &d.streams[t.index]
			info.SampleRate = pkt.SampleRate
			info.Channels = pkt.ChannelCount
			info.SampleFormat = media.SampleFormatS16
			t.sized = true
		}
		auPTS := pts
		if pkt.SampleRate > 0 {
			auPTS += int64(i) * aacSamplesPerAU * 1_000_000 / int64(pkt.SampleRate)
		}
		d.emit(t, auPTS, auPTS, true, pkt.AU)
	}
}

func (d *Demuxer) handleOpus(t *tsTrack, data []byte, pts int64) {
	aus, err := SplitOpus(data)
	if err != nil {
		d.log.Debug("skipping malformed Opus access units", "error", err)
	}
	var offset time.Duration
	for _, au := range aus {
		auPTS := pts + offset.Microseconds()
		d.emit(t, auPTS, auPTS, true, au)
		offset += OpusDuration(au)
	}
}
