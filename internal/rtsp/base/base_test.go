package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequest_ReadWriteRoundTrip(t *testing.T) {
	raw := "ANNOUNCE rtsp://host/live/cam1 RTSP/1.0\r\n" +
		"CSeq: 1\r\n" +
		"Content-Length: 4\r\n" +
		"\r\n" +
		"v=0\n"

	var req Request
	err := req.Read(bufio.NewReader(bytes.NewBufferString(raw)))
	require.NoError(t, err)
	require.Equal(t, Announce, req.Method)
	require.Equal(t, "rtsp://host/live/cam1", req.URL)
	require.Equal(t, "1", req.Header.Get("CSeq"))
	require.Equal(t, []byte("v=0\n"), req.Body)

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	require.NoError(t, req.Write(bw))
	require.Contains(t, buf.String(), "ANNOUNCE rtsp://host/live/cam1 RTSP/1.0\r\n")
}

func TestRequest_StreamID_StripsTrackID(t *testing.T) {
	req := Request{Method: Setup, URL: "/live/cam1/trackID=2"}
	require.Equal(t, "live/cam1", req.StreamID())

	req = Request{Method: Describe, URL: "/live/cam1/"}
	require.Equal(t, "live/cam1", req.StreamID())
}

func TestRequest_Read_EmptyMethodRejected(t *testing.T) {
	var req Request
	err := req.Read(bufio.NewReader(bytes.NewBufferString(" rtsp://host/x RTSP/1.0\r\n\r\n")))
	require.Error(t, err)
}

func TestResponse_WriteRead_RoundTrip(t *testing.T) {
	res := Response{StatusCode: StatusSessionNotFound, Header: Header{}}
	res.Header.Set("CSeq", "3")

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	require.NoError(t, res.Write(bw))

	var got Response
	require.NoError(t, got.Read(bufio.NewReader(&buf)))
	require.Equal(t, StatusSessionNotFound, got.StatusCode)
	require.Equal(t, "3", got.Header.Get("CSeq"))
}

func TestStatusText_UnknownCode(t *testing.T) {
	require.Equal(t, "Unknown", StatusText(999))
}

func TestHeader_CanonicalKeyLookup(t *testing.T) {
	h := Header{}
	h.Set("content-type", "application/sdp")
	require.Equal(t, "application/sdp", h.Get("Content-Type"))
	require.Equal(t, "application/sdp", h.Get("CONTENT-TYPE"))
}

func TestHeader_ParseCSeq(t *testing.T) {
	h := Header{}
	h.Set("CSeq", "42")
	n, err := h.ParseCSeq()
	require.NoError(t, err)
	require.Equal(t, 42, n)

	_, err = Header{}.ParseCSeq()
	require.Error(t, err)
}

func TestInterleavedFrame_MarshalUnmarshalRoundTrip(t *testing.T) {
	f := InterleavedFrame{Channel: 3, Payload: []byte{1, 2, 3, 4, 5}}

	enc, err := f.Marshal()
	require.NoError(t, err)
	require.Equal(t, f.MarshalSize(), len(enc))

	var got InterleavedFrame
	require.NoError(t, got.Unmarshal(bufio.NewReader(bytes.NewReader(enc))))
	require.Equal(t, f.Channel, got.Channel)
	require.Equal(t, f.Payload, got.Payload)
}

func TestInterleavedFrame_Unmarshal_BadMagicByte(t *testing.T) {
	var f InterleavedFrame
	err := f.Unmarshal(bufio.NewReader(bytes.NewReader([]byte{0x00, 0, 0, 0})))
	require.Error(t, err)
}

func TestInterleavedFrame_MarshalTo_LargePayload(t *testing.T) {
	f := InterleavedFrame{Channel: 1, Payload: make([]byte, 2000)}
	buf := make([]byte, f.MarshalSize())
	n, err := f.MarshalTo(buf)
	require.NoError(t, err)
	require.Equal(t, f.MarshalSize(), n)
}
