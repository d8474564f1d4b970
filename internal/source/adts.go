package source

import (
	"fmt"
	"io"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/babelcloud/gbox/packages/avsync/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

// ADTSFile replays an AAC stream in ADTS framing, one access unit per
// sample.
type ADTSFile struct {
	format  core.Format
	packets mpeg4audio.ADTSPackets
	next    int
}

// OpenADTS reads an AAC ADTS file.
func OpenADTS(path string) (*ADTSFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	return NewADTS(data)
}

// NewADTS parses consecutive ADTS frames. Every frame must share the
// configuration of the first.
func NewADTS(data []byte) (*ADTSFile, error) {
	packets, err := aac.SplitADTS(data)
	if err != nil {
		return nil, err
	}
	if len(packets) == 0 {
		return nil, fmt.Errorf("no ADTS frames found")
	}

	first := packets[0]
	for i, p := range packets[1:] {
		if p.SampleRate != first.SampleRate || p.ChannelCount != first.ChannelCount {
			return nil, fmt.Errorf("ADTS frame %d changes configuration", i+1)
		}
	}

	return &ADTSFile{
		format: core.Format{
			Kind:       core.KindAudio,
			Codec:      core.CodecAAC,
			SampleRate: first.SampleRate,
			Channels:   first.ChannelCount,
		},
		packets: packets,
	}, nil
}

// Format implements Producer.
func (f *ADTSFile) Format() core.Format {
	return f.format
}

// Len returns the number of frames in the stream.
func (f *ADTSFile) Len() int {
	return len(f.packets)
}

// Next implements Producer.
func (f *ADTSFile) Next() (core.Sample, error) {
	if f.next >= len(f.packets) {
		return core.Sample{}, io.EOF
	}
	n := f.next
	f.next++

	return core.Sample{
		Kind:  core.KindAudio,
		Data:  f.packets[n].AU,
		PTS:   int64(n) * aac.SamplesPerFrame * 1_000_000 / int64(f.format.SampleRate),
		Flags: core.FlagKeyFrame,
	}, nil
}
