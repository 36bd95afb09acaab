package headers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadTransport_TCPRecordInterleaved(t *testing.T) {
	tr, err := ReadTransport("RTP/AVP/TCP;unicast;interleaved=0-1;mode=record")
	require.NoError(t, err)
	require.Equal(t, ProtocolTCP, tr.Protocol)
	require.NotNil(t, tr.Delivery)
	require.Equal(t, DeliveryUnicast, *tr.Delivery)
	require.Equal(t, &[2]int{0, 1}, tr.InterleavedIDs)
	require.NotNil(t, tr.Mode)
	require.Equal(t, ModeRecord, *tr.Mode)
}

func TestReadTransport_ReceiveAliasesRecord(t *testing.T) {
	tr, err := ReadTransport("RTP/AVP;mode=receive")
	require.NoError(t, err)
	require.Equal(t, ModeRecord, *tr.Mode)
}

func TestReadTransport_MissingProtocolRejected(t *testing.T) {
	_, err := ReadTransport("unicast;mode=play")
	require.Error(t, err)
}

func TestReadTransport_InvalidMode(t *testing.T) {
	_, err := ReadTransport("RTP/AVP;mode=bogus")
	require.Error(t, err)
}

func TestTransport_WriteReadRoundTrip(t *testing.T) {
	mode := ModePlay
	delivery := DeliveryMulticast
	ttl := uint(16)
	orig := Transport{
		Protocol: ProtocolUDP,
		Delivery: &delivery,
		Mode:     &mode,
		TTL:      &ttl,
		ServerPorts: &[2]int{6970, 6971},
	}

	parsed, err := ReadTransport(orig.Write())
	require.NoError(t, err)
	require.Equal(t, orig.Protocol, parsed.Protocol)
	require.Equal(t, *orig.Delivery, *parsed.Delivery)
	require.Equal(t, *orig.Mode, *parsed.Mode)
	require.Equal(t, *orig.TTL, *parsed.TTL)
	require.Equal(t, *orig.ServerPorts, *parsed.ServerPorts)
}

func TestReadSession_WithTimeout(t *testing.T) {
	s, err := ReadSession("abc123;timeout=60")
	require.NoError(t, err)
	require.Equal(t, "abc123", s.ID)
	require.NotNil(t, s.Timeout)
	require.EqualValues(t, 60, *s.Timeout)
}

func TestReadSession_NoTimeout(t *testing.T) {
	s, err := ReadSession("abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", s.ID)
	require.Nil(t, s.Timeout)
}

func TestReadSession_Empty(t *testing.T) {
	_, err := ReadSession("")
	require.Error(t, err)
}

func TestSession_Write(t *testing.T) {
	timeout := uint(30)
	s := Session{ID: "xyz", Timeout: &timeout}
	require.Equal(t, "xyz;timeout=30", s.Write())

	require.Equal(t, "xyz", Session{ID: "xyz"}.Write())
}

func TestRTPInfo_WriteReadRoundTrip(t *testing.T) {
	seq := uint16(100)
	ts := uint32(9000)
	info := RTPInfo{
		{URL: "rtsp://host/live/cam1/trackID=1", SequenceNumber: &seq, Timestamp: &ts},
		{URL: "rtsp://host/live/cam1/trackID=2"},
	}

	parsed, err := ReadRTPInfo(info.Write())
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	require.Equal(t, info[0].URL, parsed[0].URL)
	require.EqualValues(t, seq, *parsed[0].SequenceNumber)
	require.EqualValues(t, ts, *parsed[0].Timestamp)
	require.Nil(t, parsed[1].SequenceNumber)
}

func TestReadRTPInfo_Empty(t *testing.T) {
	_, err := ReadRTPInfo("")
	require.Error(t, err)
}
