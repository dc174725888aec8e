// Package demux splits MPEG-TS byte streams into per-stream packets and
// carries the H.264/H.265 bitstream helpers the sources share.
//
// The central type is [Demuxer], which reads from an [io.Reader], discovers
// the elementary streams from the program map table ([Demuxer.Probe]) and
// then yields packets one at a time ([Demuxer.ReadPacket]). Codec-specific
// parsing is provided by [ParseAnnexB], [ParseSPS], [SplitOpus] and their
// HEVC counterparts.
package demux
