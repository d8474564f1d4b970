// Package h264 converts H.264 elementary stream data between the Annex-B
// layout produced by encoders and the length-prefixed layout containers use.
package h264

import (
	"fmt"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// NALUType returns the type of a NAL unit without start code.
func NALUType(nalu []byte) mch264.NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return mch264.NALUType(nalu[0] & 0x1F)
}

// Split parses an Annex-B buffer into NAL units.
func Split(annexb []byte) ([][]byte, error) {
	var au mch264.AnnexB
	if err := au.Unmarshal(annexb); err != nil {
		return nil, fmt.Errorf("failed to parse Annex-B: %w", err)
	}
	return au, nil
}

// JoinAnnexB encodes NAL units with start codes.
func JoinAnnexB(nalus [][]byte) ([]byte, error) {
	return mch264.AnnexB(nalus).Marshal()
}

// ToAVCC converts an Annex-B access unit into length-prefixed NAL units.
// Delimiters and parameter sets are left out, containers carry those in
// their track configuration.
func ToAVCC(annexb []byte) ([]byte, error) {
	nalus, err := Split(annexb)
	if err != nil {
		return nil, err
	}
	return EncodeAVCC(MediaNALUs(nalus))
}

// EncodeAVCC encodes NAL units with 4-byte length prefixes. It returns nil
// for an empty unit.
func EncodeAVCC(nalus [][]byte) ([]byte, error) {
	if len(nalus) == 0 {
		return nil, nil
	}
	avcc, err := mch264.AVCC(nalus).Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode AVCC: %w", err)
	}
	return avcc, nil
}

// MediaNALUs drops delimiters and parameter sets.
func MediaNALUs(nalus [][]byte) [][]byte {
	out := make([][]byte, 0, len(nalus))
	for _, nalu := range nalus {
		switch NALUType(nalu) {
		case mch264.NALUTypeAccessUnitDelimiter, mch264.NALUTypeSPS, mch264.NALUTypePPS:
			continue
		}
		if len(nalu) > 0 {
			out = append(out, nalu)
		}
	}
	return out
}

// ParameterSets returns the first SPS and PPS found in nalus.
func ParameterSets(nalus [][]byte) (sps, pps []byte) {
	for _, nalu := range nalus {
		switch NALUType(nalu) {
		case mch264.NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case mch264.NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
	}
	return sps, pps
}

// IsKeyFrame reports whether an access unit holds an IDR slice.
func IsKeyFrame(nalus [][]byte) bool {
	return mch264.IsRandomAccess(nalus)
}

// FrameSize decodes the picture size from an SPS.
func FrameSize(sps []byte) (width, height int, err error) {
	var s mch264.SPS
	if err := s.Unmarshal(sps); err != nil {
		return 0, 0, fmt.Errorf("unable to parse H264 SPS: %w", err)
	}
	return s.Width(), s.Height(), nil
}

// DecoderConfig builds an AVCDecoderConfigurationRecord (avcC) with one SPS
// and one PPS and 4-byte NALU lengths.
func DecoderConfig(sps, pps []byte) []byte {
	if len(sps) < 4 || len(pps) == 0 {
		return nil
	}

	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf, 1)      // configurationVersion
	buf = append(buf, sps[1]) // AVCProfileIndication
	buf = append(buf, sps[2]) // profile_compatibility
	buf = append(buf, sps[3]) // AVCLevelIndication
	buf = append(buf, 0xFF)   // lengthSizeMinusOne = 3
	buf = append(buf, 0xE1)   // numOfSequenceParameterSets = 1

	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)

	buf = append(buf, 1) // numOfPictureParameterSets
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)

	return buf
}

// ParseDecoderConfig extracts the first SPS and PPS from an avcC record.
func ParseDecoderConfig(avcc []byte) (sps, pps []byte, ok bool) {
	if len(avcc) < 7 || avcc[0] != 0x01 {
		return nil, nil, false
	}

	i := 5
	numSPS := int(avcc[i] & 0x1F)
	i++
	for n := 0; n < numSPS; n++ {
		if i+2 > len(avcc) {
			return nil, nil, false
		}
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			return nil, nil, false
		}
		if sps == nil && l > 0 {
			sps = append([]byte{}, avcc[i:i+l]...)
		}
		i += l
	}

	if i >= len(avcc) {
		return sps, nil, false
	}
	numPPS := int(avcc[i])
	i++
	for n := 0; n < numPPS; n++ {
		if i+2 > len(avcc) {
			break
		}
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			break
		}
		if pps == nil && l > 0 {
			pps = append([]byte{}, avcc[i:i+l]...)
		}
		i += l
	}
	return sps, pps, sps != nil && pps != nil
}

func isVCL(t mch264.NALUType) bool {
	return t >= mch264.NALUTypeNonIDR && t <= mch264.NALUTypeIDR
}

// firstSlice reports whether a slice NAL unit starts a new picture, that is
// whether first_mb_in_slice is zero.
func firstSlice(nalu []byte) bool {
	return len(nalu) > 1 && nalu[1]&0x80 != 0
}

// AccessUnits groups a stream of NAL units into access units. A new unit
// starts at a delimiter, at parameter sets or SEI following a picture, or at
// the first slice of a new picture.
func AccessUnits(nalus [][]byte) [][][]byte {
	var out [][][]byte
	var cur [][]byte
	hasPicture := false

	flush := func() {
		if len(cur) > 0 {
			out = append(out, cur)
		}
		cur = nil
		hasPicture = false
	}

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		t := NALUType(nalu)
		switch {
		case t == mch264.NALUTypeAccessUnitDelimiter:
			flush()
		case t == mch264.NALUTypeSPS || t == mch264.NALUTypePPS || t == mch264.NALUTypeSEI:
			if hasPicture {
				flush()
			}
		case isVCL(t):
			if hasPicture && firstSlice(nalu) {
				flush()
			}
			hasPicture = true
		}
		cur = append(cur, nalu)
	}
	flush()
	return out
}
