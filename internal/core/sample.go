package core

import "strings"

// Kind identifies the media stream a sample belongs to.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

// Kinds lists every kind in track order.
var Kinds = []Kind{KindVideo, KindAudio}

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Flags describes per-sample properties reported by the encoder.
type Flags uint32

const (
	FlagKeyFrame    Flags = 1 << iota // Sync sample (IDR for video)
	FlagCodecConfig                   // Parameter sets rather than media
	FlagEndOfStream                   // Last sample of its kind
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagKeyFrame) {
		parts = append(parts, "key")
	}
	if f.Has(FlagCodecConfig) {
		parts = append(parts, "config")
	}
	if f.Has(FlagEndOfStream) {
		parts = append(parts, "eos")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// Sample represents a single encoded unit of media.
// Data is owned by whoever holds the sample and must not be modified once pushed.
type Sample struct {
	Kind  Kind
	Data  []byte // Encoded payload (Annex-B H.264, raw or ADTS AAC, Opus)
	PTS   int64  // Presentation timestamp in microseconds
	Flags Flags
}

// IsKeyFrame reports whether the sample is a sync sample.
func (s Sample) IsKeyFrame() bool {
	return s.Flags.Has(FlagKeyFrame)
}

// Codec names the encoding of a track.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecAAC  Codec = "aac"
	CodecOpus Codec = "opus"
)

// Format is the negotiated output format of one track.
type Format struct {
	Kind  Kind
	Codec Codec

	// Video
	Width  int
	Height int
	SPS    []byte // raw NAL payload, no start code
	PPS    []byte

	// Audio
	SampleRate int
	Channels   int
}

// TrackID is the identifier a sink assigns to a track when it is added.
type TrackID int
