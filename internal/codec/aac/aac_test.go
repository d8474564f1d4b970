package aac

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

func TestStripADTS(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{
			name: "no crc",
			in:   []byte{0xFF, 0xF1, 0x50, 0x80, 0x02, 0x1F, 0xFC, 0xAA, 0xBB},
			want: []byte{0xAA, 0xBB},
		},
		{
			name: "with crc",
			in:   []byte{0xFF, 0xF0, 0x50, 0x80, 0x02, 0x1F, 0xFC, 0x00, 0x00, 0xCC},
			want: []byte{0xCC},
		},
		{
			name: "raw payload",
			in:   []byte{0x21, 0x10, 0x05, 0x00, 0x00, 0x00, 0x00, 0x01},
			want: []byte{0x21, 0x10, 0x05, 0x00, 0x00, 0x00, 0x00, 0x01},
		},
		{
			name: "short",
			in:   []byte{0xFF, 0xF1},
			want: []byte{0xFF, 0xF1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripADTS(tt.in))
		})
	}
}

func TestSplitADTSRoundTrip(t *testing.T) {
	pkts := mpeg4audio.ADTSPackets{
		{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 2, AU: []byte{1, 2, 3}},
		{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 2, AU: []byte{4, 5}},
	}
	buf, err := pkts.Marshal()
	require.NoError(t, err)

	got, err := SplitADTS(buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte{4, 5}, got[1].AU)
	assert.Equal(t, 48000, got[0].SampleRate)
}

func TestConfig(t *testing.T) {
	conf, err := Config(core.Format{Kind: core.KindAudio, Codec: core.CodecAAC, SampleRate: 44100, Channels: 1})
	require.NoError(t, err)
	assert.Equal(t, mpeg4audio.ObjectTypeAACLC, conf.Type)
	assert.Equal(t, 44100, conf.SampleRate)

	_, err = Config(core.Format{Codec: core.CodecOpus, SampleRate: 48000, Channels: 2})
	assert.Error(t, err)
	_, err = Config(core.Format{Codec: core.CodecAAC})
	assert.Error(t, err)

	enc, err := EncodedConfig(core.Format{Codec: core.CodecAAC, SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	// AAC-LC, 48 kHz (index 3), stereo
	assert.Equal(t, []byte{0x11, 0x90}, enc)
}

func TestFrameDuration(t *testing.T) {
	assert.Equal(t, int64(21333), FrameDuration(48000))
	assert.Equal(t, int64(0), FrameDuration(0))
}
