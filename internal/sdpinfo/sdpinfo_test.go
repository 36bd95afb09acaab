package sdpinfo

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=stream\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=control:trackID=1\r\n" +
	"m=audio 0 RTP/AVP 97\r\n" +
	"a=rtpmap:97 mpeg4-generic/8000\r\n" +
	"a=control:trackID=2\r\n"

func TestParse_TracksAndPayloadInfo(t *testing.T) {
	infos, err := Parse([]byte(testSDP))
	require.NoError(t, err)
	require.Len(t, infos, 2)

	require.True(t, infos[0].IsVideo)
	require.Equal(t, "H264", infos[0].PayloadName)
	require.Equal(t, 90000, infos[0].Timescale)
	require.True(t, infos[0].IsH264Video90000())

	require.True(t, infos[1].IsAudio)
	require.False(t, infos[1].IsH264Video90000())
}

func TestParse_NoMediaSections(t *testing.T) {
	_, err := Parse([]byte("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=stream\r\nt=0 0\r\n"))
	require.Error(t, err)
}

func TestBuildLocalSDP_RewritesOrigin(t *testing.T) {
	local, err := BuildLocalSDP([]byte(testSDP), net.IPv4(10, 1, 2, 3))
	require.NoError(t, err)

	reparsed, err := Parse(local)
	require.NoError(t, err)
	require.Len(t, reparsed, 2, "media sections survive the rewrite")
	require.Contains(t, string(local), "10.1.2.3")
}
