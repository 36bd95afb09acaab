// Package headers decodes/encodes the RTSP headers the reflector cares
// about: Transport, Session and RTP-Info. Adapted from gortsplib's
// pkg/headers.
package headers

import (
	"fmt"
	"strconv"
	"strings"
)

// Protocol is the transport protocol carried by a Transport header.
type Protocol int

// Protocols.
const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
)

// Delivery is the delivery method carried by a Transport header.
type Delivery int

// Delivery methods.
const (
	DeliveryUnicast Delivery = iota
	DeliveryMulticast
)

// Mode is the transport mode (play vs record).
type Mode int

// Modes.
const (
	ModePlay Mode = iota
	ModeRecord
)

// Transport is a parsed Transport header.
type Transport struct {
	Protocol       Protocol
	Delivery       *Delivery
	Mode           *Mode
	InterleavedIDs *[2]int
	ClientPorts    *[2]int
	ServerPorts    *[2]int
	TTL            *uint
}

func parsePortPair(val string) (*[2]int, error) {
	parts := strings.Split(val, "-")

	p1, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid port pair %q", val)
	}

	if len(parts) == 1 {
		return &[2]int{p1, p1 + 1}, nil
	}

	p2, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid port pair %q", val)
	}

	return &[2]int{p1, p2}, nil
}

// ReadTransport decodes a Transport header value, split on ';' as spec.md
// §4.8 describes, matching each sub-token case-insensitively.
func ReadTransport(v string) (*Transport, error) {
	if v == "" {
		return nil, fmt.Errorf("value not provided")
	}

	h := &Transport{}
	protocolFound := false

	for _, tok := range strings.Split(v, ";") {
		tok = strings.TrimSpace(tok)
		key := tok
		val := ""
		if i := strings.IndexByte(tok, '='); i >= 0 {
			key = tok[:i]
			val = tok[i+1:]
		}

		switch strings.ToUpper(key) {
		case "RTP/AVP", "RTP/AVP/UDP":
			h.Protocol = ProtocolUDP
			protocolFound = true

		case "RTP/AVP/TCP":
			h.Protocol = ProtocolTCP
			protocolFound = true

		case "UNICAST":
			d := DeliveryUnicast
			h.Delivery = &d

		case "MULTICAST":
			d := DeliveryMulticast
			h.Delivery = &d

		case "INTERLEAVED":
			ports, err := parsePortPair(val)
			if err != nil {
				return nil, err
			}
			h.InterleavedIDs = ports

		case "CLIENT_PORT":
			ports, err := parsePortPair(val)
			if err != nil {
				return nil, err
			}
			h.ClientPorts = ports

		case "SERVER_PORT":
			ports, err := parsePortPair(val)
			if err != nil {
				return nil, err
			}
			h.ServerPorts = ports

		case "TTL":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid ttl %q", val)
			}
			ttl := uint(n)
			h.TTL = &ttl

		case "MODE":
			str := strings.ToLower(strings.Trim(val, "\""))
			switch str {
			case "play":
				m := ModePlay
				h.Mode = &m
			// "receive" is an old alias for "record" used by ffmpeg -listen
			// and by Darwin Streaming Server.
			case "record", "receive":
				m := ModeRecord
				h.Mode = &m
			default:
				return nil, fmt.Errorf("invalid transport mode: %q", str)
			}

		default:
			// ignore non-standard keys
		}
	}

	if !protocolFound {
		return nil, fmt.Errorf("protocol not found in transport header %q", v)
	}

	return h, nil
}

// Write encodes the Transport header back into a single header value.
func (h Transport) Write() string {
	var parts []string

	if h.Protocol == ProtocolUDP {
		parts = append(parts, "RTP/AVP")
	} else {
		parts = append(parts, "RTP/AVP/TCP")
	}

	if h.Delivery != nil {
		if *h.Delivery == DeliveryUnicast {
			parts = append(parts, "unicast")
		} else {
			parts = append(parts, "multicast")
		}
	}

	if h.InterleavedIDs != nil {
		parts = append(parts, fmt.Sprintf("interleaved=%d-%d", h.InterleavedIDs[0], h.InterleavedIDs[1]))
	}

	if h.ClientPorts != nil {
		parts = append(parts, fmt.Sprintf("client_port=%d-%d", h.ClientPorts[0], h.ClientPorts[1]))
	}

	if h.ServerPorts != nil {
		parts = append(parts, fmt.Sprintf("server_port=%d-%d", h.ServerPorts[0], h.ServerPorts[1]))
	}

	if h.TTL != nil {
		parts = append(parts, fmt.Sprintf("ttl=%d", *h.TTL))
	}

	if h.Mode != nil {
		if *h.Mode == ModePlay {
			parts = append(parts, "mode=play")
		} else {
			parts = append(parts, "mode=record")
		}
	}

	return strings.Join(parts, ";")
}
