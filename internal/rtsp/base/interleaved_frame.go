package base

import (
	"bufio"
	"fmt"
	"io"
)

// InterleavedFrameMagicByte is the first byte of an interleaved data frame,
// per RFC 2326 section 10.12.
const InterleavedFrameMagicByte = 0x24

// InterleavedFrame transfers RTP/RTCP packets inside a RTSP/TCP connection,
// framed as '$', channel, length(u16 big-endian), payload.
type InterleavedFrame struct {
	Channel int
	Payload []byte
}

// Unmarshal decodes an interleaved frame, consuming the leading magic byte.
func (f *InterleavedFrame) Unmarshal(br *bufio.Reader) error {
	var header [4]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return err
	}

	if header[0] != InterleavedFrameMagicByte {
		return fmt.Errorf("invalid magic byte (0x%.2x)", header[0])
	}

	payloadLen := int(uint16(header[2])<<8 | uint16(header[3]))
	f.Channel = int(header[1])
	f.Payload = make([]byte, payloadLen)

	_, err := io.ReadFull(br, f.Payload)
	return err
}

// MarshalSize returns the marshaled size of the frame.
func (f InterleavedFrame) MarshalSize() int {
	return 4 + len(f.Payload)
}

// MarshalTo writes the frame into buf, which must be at least MarshalSize() long.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	pos := 0
	pos += copy(buf[pos:], []byte{InterleavedFrameMagicByte, byte(f.Channel)})

	payloadLen := len(f.Payload)
	buf[pos] = byte(payloadLen >> 8)
	buf[pos+1] = byte(payloadLen)
	pos += 2

	pos += copy(buf[pos:], f.Payload)
	return pos, nil
}

// Marshal encodes the frame.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	return buf, err
}
