package reflector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const oneTrackSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=stream\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=control:trackID=1\r\n"

func TestReflectorSession_Setup_TCPInterleaved(t *testing.T) {
	rs := NewReflectorSession("cam1", NewSocketPairPool())

	err := rs.Setup([]byte(oneTrackSDP), SetupParams{TCPInterleaved: true})
	require.NoError(t, err)
	require.True(t, rs.IsSetup())
	require.Len(t, rs.Streams(), 1)
}

func TestReflectorSession_Setup_TwiceRejected(t *testing.T) {
	rs := NewReflectorSession("cam1", NewSocketPairPool())
	require.NoError(t, rs.Setup([]byte(oneTrackSDP), SetupParams{TCPInterleaved: true}))

	err := rs.Setup([]byte(oneTrackSDP), SetupParams{TCPInterleaved: true})
	require.Error(t, err)
}

func TestReflectorSession_Setup_InvalidSDPRejected(t *testing.T) {
	rs := NewReflectorSession("cam1", NewSocketPairPool())

	err := rs.Setup([]byte("not an sdp document"), SetupParams{TCPInterleaved: true})
	require.Error(t, err)
	require.False(t, rs.IsSetup())
}

func TestReflectorSession_AddRemoveOutput(t *testing.T) {
	rs := NewReflectorSession("cam1", NewSocketPairPool())
	require.NoError(t, rs.Setup([]byte(oneTrackSDP), SetupParams{TCPInterleaved: true}))

	sub := NewSubscriberOutput("sess1", len(rs.Streams()), nil, time.Second, 0)
	rs.AddOutput(sub)
	require.Len(t, rs.Streams()[0].subscribers, 1)

	rs.RemoveOutput(sub)
	require.Empty(t, rs.Streams()[0].subscribers)
}

func TestReflectorSession_TearDownAllOutputs_ClearsSubscribersAndStopsPlaying(t *testing.T) {
	rs := NewReflectorSession("cam1", NewSocketPairPool())
	require.NoError(t, rs.Setup([]byte(oneTrackSDP), SetupParams{TCPInterleaved: true}))

	sub := NewSubscriberOutput("sess1", len(rs.Streams()), nil, time.Second, 0)
	sub.SetPlaying(true)
	rs.AddOutput(sub)

	rs.TearDownAllOutputs()

	require.False(t, sub.IsPlaying())
	require.Empty(t, rs.Streams()[0].subscribers)
}

func TestReflectorSession_Tick_RunsSendersUnderLock(t *testing.T) {
	rs := NewReflectorSession("cam1", NewSocketPairPool())
	require.NoError(t, rs.Setup([]byte(oneTrackSDP), SetupParams{TCPInterleaved: true}))

	require.NotPanics(t, func() {
		rs.Tick(rs.Streams()[0].bitrateResetAt)
	})
}
