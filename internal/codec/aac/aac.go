// Package aac handles AAC framing for containers that want raw access units.
package aac

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

// SamplesPerFrame is the number of PCM samples in one AAC-LC access unit.
const SamplesPerFrame = 1024

// StripADTS removes an ADTS header if present and returns the raw AAC payload.
// Data without an ADTS header is returned unchanged.
func StripADTS(data []byte) []byte {
	if len(data) < 7 {
		return data
	}
	// syncword 0xFFF
	if data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		headerLen := 7
		if (data[1] & 0x01) == 0 { // CRC present
			headerLen = 9
		}
		if len(data) > headerLen {
			return data[headerLen:]
		}
	}
	return data
}

// SplitADTS decodes a buffer of consecutive ADTS frames.
func SplitADTS(data []byte) (mpeg4audio.ADTSPackets, error) {
	var pkts mpeg4audio.ADTSPackets
	if err := pkts.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("unable to decode ADTS: %w", err)
	}
	return pkts, nil
}

// Config returns the AudioSpecificConfig of an AAC-LC track.
func Config(f core.Format) (mpeg4audio.AudioSpecificConfig, error) {
	if f.Codec != core.CodecAAC {
		return mpeg4audio.AudioSpecificConfig{}, fmt.Errorf("codec %q is not AAC", f.Codec)
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return mpeg4audio.AudioSpecificConfig{}, fmt.Errorf("invalid AAC format: rate=%d channels=%d", f.SampleRate, f.Channels)
	}
	return mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
	}, nil
}

// EncodedConfig returns the serialized AudioSpecificConfig, as stored in
// Matroska CodecPrivate.
func EncodedConfig(f core.Format) ([]byte, error) {
	conf, err := Config(f)
	if err != nil {
		return nil, err
	}
	buf, err := conf.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode AudioSpecificConfig: %w", err)
	}
	return buf, nil
}

// FrameDuration returns the duration of one access unit in microseconds.
func FrameDuration(sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return SamplesPerFrame * 1_000_000 / int64(sampleRate)
}
