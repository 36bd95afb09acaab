package rtsp

import (
	"bufio"
	"io"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtsp/base"
)

const readBufferSize = 4096

// Conn wraps a net.Conn (or any io.ReadWriter) with buffered RTSP
// request/response and interleaved-frame framing, adapted from
// gortsplib's pkg/conn.
type Conn struct {
	w  io.Writer
	br *bufio.Reader
}

// NewConn allocates a Conn.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		w:  rw,
		br: bufio.NewReaderSize(rw, readBufferSize),
	}
}

// ReadRequest reads a Request.
func (c *Conn) ReadRequest() (*base.Request, error) {
	var req base.Request
	err := req.Read(c.br)
	return &req, err
}

// ReadInterleavedFrame reads an InterleavedFrame, consuming its magic byte.
func (c *Conn) ReadInterleavedFrame() (*base.InterleavedFrame, error) {
	var fr base.InterleavedFrame
	err := fr.Unmarshal(c.br)
	return &fr, err
}

// ReadInterleavedFrameOrRequest peeks the next byte and reads either an
// InterleavedFrame ('$'-prefixed) or a Request, without consuming bytes
// that belong to the wrong shape.
func (c *Conn) ReadInterleavedFrameOrRequest() (interface{}, error) {
	b, err := c.br.Peek(1)
	if err != nil {
		return nil, err
	}

	if b[0] == base.InterleavedFrameMagicByte {
		return c.ReadInterleavedFrame()
	}

	return c.ReadRequest()
}

// WriteResponse writes a Response.
func (c *Conn) WriteResponse(res *base.Response) error {
	bw := bufio.NewWriter(c.w)
	return res.Write(bw)
}

// WriteInterleavedFrame writes an InterleavedFrame using buf as scratch space.
func (c *Conn) WriteInterleavedFrame(fr *base.InterleavedFrame, buf []byte) error {
	n, err := fr.MarshalTo(buf)
	if err != nil {
		return err
	}
	_, err = c.w.Write(buf[:n])
	return err
}
