package media

// Codec names carried in StreamInfo.Codec. Sources and the decoder
// registry agree on these.
const (
	CodecH264     = "h264"
	CodecH265     = "h265"
	CodecAAC      = "aac"
	CodecOpus     = "opus"
	CodecRawVideo = "rawvideo"
	CodecCEA608   = "cea608"
	CodecText     = "text"
)
