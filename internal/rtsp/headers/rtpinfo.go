package headers

import (
	"fmt"
	"strconv"
	"strings"
)

// RTPInfoEntry describes one track's worth of RTP-Info.
type RTPInfoEntry struct {
	URL            string
	SequenceNumber *uint16
	Timestamp      *uint32
}

// RTPInfo is the RTP-Info header: one entry per track, as returned on
// RECORD/PLAY responses.
type RTPInfo []*RTPInfoEntry

// Write encodes the RTP-Info header.
func (h RTPInfo) Write() string {
	parts := make([]string, len(h))

	for i, e := range h {
		var sub []string
		sub = append(sub, "url="+e.URL)
		if e.SequenceNumber != nil {
			sub = append(sub, "seq="+strconv.FormatUint(uint64(*e.SequenceNumber), 10))
		}
		if e.Timestamp != nil {
			sub = append(sub, "rtptime="+strconv.FormatUint(uint64(*e.Timestamp), 10))
		}
		parts[i] = strings.Join(sub, ";")
	}

	return strings.Join(parts, ",")
}

// ReadRTPInfo decodes a RTP-Info header value.
func ReadRTPInfo(v string) (RTPInfo, error) {
	if v == "" {
		return nil, fmt.Errorf("value not provided")
	}

	var out RTPInfo

	for _, entryStr := range strings.Split(v, ",") {
		e := &RTPInfoEntry{}

		for _, tok := range strings.Split(entryStr, ";") {
			tok = strings.TrimSpace(tok)
			kv := strings.SplitN(tok, "=", 2)
			if len(kv) != 2 {
				continue
			}

			switch strings.ToLower(kv[0]) {
			case "url":
				e.URL = kv[1]
			case "seq":
				n, err := strconv.ParseUint(kv[1], 10, 16)
				if err != nil {
					return nil, fmt.Errorf("invalid seq: %w", err)
				}
				v := uint16(n)
				e.SequenceNumber = &v
			case "rtptime":
				n, err := strconv.ParseUint(kv[1], 10, 32)
				if err != nil {
					return nil, fmt.Errorf("invalid rtptime: %w", err)
				}
				v := uint32(n)
				e.Timestamp = &v
			}
		}

		out = append(out, e)
	}

	return out, nil
}
