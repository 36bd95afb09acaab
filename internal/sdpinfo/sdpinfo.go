// Package sdpinfo is the external SDP collaborator boundary named in
// spec.md §1: it turns an ANNOUNCE body into the pre-parsed StreamInfo
// vector the reflector core consumes, and builds the local SDP text
// returned on DESCRIBE. The reflector core never imports pion/sdp
// directly — only this package's StreamInfo and raw []byte text.
package sdpinfo

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// TransportKind is the transport a StreamInfo was announced over.
type TransportKind int

// Transport kinds.
const (
	TransportUDP TransportKind = iota
	TransportTCP
)

// StreamInfo is one media track described by a publisher's SDP, per the
// data model in spec.md §3.
type StreamInfo struct {
	TrackID       int
	TrackName     string
	SrcIPAddr     net.IP
	DestIPAddr    net.IP
	Port          int
	TTL           int
	PayloadType   uint8
	PayloadName   string
	IsVideo       bool
	IsAudio       bool
	Transport     TransportKind
	SetupToReceive bool
	BufferDelaySec int
	Timescale      int
}

// IsH264Video90000 reports whether this track is a H.264 video track
// clocked at 90kHz, the keyframe classifier's gating condition in
// spec.md §4.4.
func (s StreamInfo) IsH264Video90000() bool {
	return s.IsVideo && s.Timescale == 90000 && strings.EqualFold(s.PayloadName, "H264")
}

// Parse turns a raw SDP document into the StreamInfo vector, one per
// "m=" section.
func Parse(raw []byte) ([]StreamInfo, error) {
	var doc sdp.SessionDescription
	if err := doc.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("invalid sdp: %w", err)
	}

	if len(doc.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("sdp has no media sections")
	}

	sessionIP := connIP(doc.ConnectionInformation)

	out := make([]StreamInfo, len(doc.MediaDescriptions))

	for i, m := range doc.MediaDescriptions {
		si := StreamInfo{
			TrackID:        i + 1,
			TrackName:      fmt.Sprintf("trackID=%d", i+1),
			DestIPAddr:     sessionIP,
			SetupToReceive: true,
			BufferDelaySec: 1,
			Timescale:      8000,
		}

		if m.ConnectionInformation != nil {
			if ip := connIP(m.ConnectionInformation); ip != nil {
				si.DestIPAddr = ip
			}
		}

		if len(m.MediaName.Formats) > 0 {
			if pt, err := strconv.Atoi(m.MediaName.Formats[0]); err == nil {
				si.PayloadType = uint8(pt)
			}
		}

		si.Port = m.MediaName.Port.Value
		if m.MediaName.Port.Range != nil {
			// port/ttl encoded as "port/ttl" for multicast sections
			si.TTL = *m.MediaName.Port.Range
		}

		switch strings.ToLower(m.MediaName.Media) {
		case "video":
			si.IsVideo = true
		case "audio":
			si.IsAudio = true
		}

		for _, attr := range m.Attributes {
			switch attr.Key {
			case "rtpmap":
				si.PayloadName, si.Timescale = parseRTPMap(attr.Value)
			case "control":
				si.TrackName = attr.Value
			}
		}

		out[i] = si
	}

	return out, nil
}

func connIP(ci *sdp.ConnectionInformation) net.IP {
	if ci == nil || ci.Address == nil {
		return nil
	}
	return net.ParseIP(ci.Address.Address)
}

// parseRTPMap extracts the payload name and clock rate from a
// "rtpmap" attribute value of the form "96 H264/90000".
func parseRTPMap(v string) (name string, clockRate int) {
	fields := strings.Fields(v)
	if len(fields) < 2 {
		return "", 0
	}

	parts := strings.SplitN(fields[1], "/", 2)
	name = parts[0]
	if len(parts) == 2 {
		clockRate, _ = strconv.Atoi(parts[1])
	}
	return name, clockRate
}

// BuildLocalSDP rewrites a cached SDP document the way the reflector's
// own DESCRIBE response does: same media sections and attributes, but
// session-level fields normalized to the server's own identity. This
// is the "local-SDP rewrite" referenced by the SDP round-trip property
// in spec.md §8.
func BuildLocalSDP(raw []byte, serverIP net.IP) ([]byte, error) {
	var doc sdp.SessionDescription
	if err := doc.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("invalid sdp: %w", err)
	}

	doc.Origin.UnicastAddress = serverIP.String()
	doc.Origin.NetworkType = "IN"
	doc.Origin.AddressType = "IP4"
	if serverIP.To4() == nil {
		doc.Origin.AddressType = "IP6"
	}

	return doc.Marshal()
}
