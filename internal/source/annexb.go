package source

import (
	"fmt"
	"io"
	"os"

	"github.com/babelcloud/gbox/packages/avsync/internal/codec/h264"
	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

// AnnexBFile replays an H.264 elementary stream one access unit at a time
// with timestamps derived from a fixed frame rate.
type AnnexBFile struct {
	format   core.Format
	units    [][][]byte
	fps      int
	next     int
	pictures int
}

// OpenAnnexB reads an H.264 Annex-B file.
func OpenAnnexB(path string, fps int) (*AnnexBFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read video file: %w", err)
	}
	return NewAnnexB(data, fps)
}

// NewAnnexB parses an Annex-B stream. The stream must carry an SPS and a
// PPS, which make up the track format.
func NewAnnexB(data []byte, fps int) (*AnnexBFile, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", fps)
	}
	nalus, err := h264.Split(data)
	if err != nil {
		return nil, err
	}

	sps, pps := h264.ParameterSets(nalus)
	if sps == nil || pps == nil {
		return nil, fmt.Errorf("no SPS/PPS found in video stream")
	}
	width, height, err := h264.FrameSize(sps)
	if err != nil {
		return nil, err
	}

	return &AnnexBFile{
		format: core.Format{
			Kind:   core.KindVideo,
			Codec:  core.CodecH264,
			Width:  width,
			Height: height,
			SPS:    sps,
			PPS:    pps,
		},
		units: h264.AccessUnits(nalus),
		fps:   fps,
	}, nil
}

// Format implements Producer.
func (f *AnnexBFile) Format() core.Format {
	return f.format
}

// Len returns the number of access units in the stream.
func (f *AnnexBFile) Len() int {
	return len(f.units)
}

// Next implements Producer. Units holding only parameter sets are flagged
// as codec config and share the timestamp of the following picture.
func (f *AnnexBFile) Next() (core.Sample, error) {
	if f.next >= len(f.units) {
		return core.Sample{}, io.EOF
	}
	unit := f.units[f.next]
	f.next++

	data, err := h264.JoinAnnexB(unit)
	if err != nil {
		return core.Sample{}, fmt.Errorf("failed to encode access unit: %w", err)
	}

	sample := core.Sample{
		Kind: core.KindVideo,
		Data: data,
		PTS:  int64(f.pictures) * 1_000_000 / int64(f.fps),
	}
	if len(h264.MediaNALUs(unit)) == 0 {
		sample.Flags |= core.FlagCodecConfig
		return sample, nil
	}
	if h264.IsKeyFrame(unit) {
		sample.Flags |= core.FlagKeyFrame
	}
	f.pictures++
	return sample, nil
}
