package reflector

import "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

// minKeyframePacketLen is the smallest RTP packet (header included) the
// classifier will inspect; shorter packets short-circuit to "not a keyframe" per
// spec.md §4.2.
const minKeyframePacketLen = 20

// isKeyframeStart reports whether an RTP packet begins a H.264 IDR/SPS/
// PPS access unit, handling single-NAL, STAP-A/B, MTAP16/24 and FU-A/B
// packetization, grounded on IsKeyFrameFirstPacket in the original
// ReflectorStream.cpp. NAL-type classification uses
// bluenviron/mediacommon's h264.NALUType, the same dependency the
// teacher's own rtph264 decoder uses for this (pkg/format/rtph264/
// decoder.go). Any out-of-bounds access short-circuits to false.
func isKeyframeStart(rtpPacket []byte) bool {
	if len(rtpPacket) < minKeyframePacketLen {
		return false
	}

	csrcCount := int(rtpPacket[0] & 0x0f)
	headerSize := 12 + 4*csrcCount

	if headerSize >= len(rtpPacket) {
		return false
	}

	naluType := h264.NALUType(rtpPacket[headerSize] & 0x1f)

	switch naluType {
	case h264.NALUTypeSTAPA:
		if headerSize+3 < len(rtpPacket) {
			naluType = h264.NALUType(rtpPacket[headerSize+3] & 0x1f)
		}

	case h264.NALUTypeSTAPB:
		if headerSize+5 < len(rtpPacket) {
			naluType = h264.NALUType(rtpPacket[headerSize+5] & 0x1f)
		}

	case h264.NALUTypeMTAP16:
		if headerSize+8 < len(rtpPacket) {
			naluType = h264.NALUType(rtpPacket[headerSize+8] & 0x1f)
		}

	case h264.NALUTypeMTAP24:
		if headerSize+9 < len(rtpPacket) {
			naluType = h264.NALUType(rtpPacket[headerSize+9] & 0x1f)
		}

	case h264.NALUTypeFUA, h264.NALUTypeFUB:
		if headerSize+1 < len(rtpPacket) {
			fuHeader := rtpPacket[headerSize+1]
			startBit := fuHeader & 0x80
			if startBit != 0 {
				naluType = h264.NALUType(fuHeader & 0x1f)
			}
		}
	}

	return naluType == h264.NALUTypeIDR || naluType == h264.NALUTypeSPS || naluType == h264.NALUTypePPS
}
