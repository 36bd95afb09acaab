package headers

import (
	"fmt"
	"strconv"
	"strings"
)

// Session is a parsed Session header: an opaque id plus an optional
// timeout parameter.
type Session struct {
	ID      string
	Timeout *uint
}

// ReadSession decodes a Session header value.
func ReadSession(v string) (*Session, error) {
	if v == "" {
		return nil, fmt.Errorf("value not provided")
	}

	parts := strings.SplitN(v, ";", 2)
	h := &Session{ID: strings.TrimSpace(parts[0])}

	if len(parts) == 2 {
		kv := strings.SplitN(strings.TrimSpace(parts[1]), "=", 2)
		if len(kv) == 2 && strings.EqualFold(strings.TrimSpace(kv[0]), "timeout") {
			n, err := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid session timeout: %w", err)
			}
			t := uint(n)
			h.Timeout = &t
		}
	}

	return h, nil
}

// Write encodes the Session header.
func (h Session) Write() string {
	if h.Timeout != nil {
		return fmt.Sprintf("%s;timeout=%d", h.ID, *h.Timeout)
	}
	return h.ID
}
