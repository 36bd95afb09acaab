package reflector

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/sdpinfo"
)

func TestBindSockets_TCPInterleaved_UsesVirtualPair(t *testing.T) {
	session := NewReflectorSession("s", NewSocketPairPool())
	st := newStream(session, sdpinfo.StreamInfo{}, 0)

	err := st.bindSockets(session.pool, nil, true, nil, 0)
	require.NoError(t, err)
	require.True(t, st.Pair.Virtual)
	require.Same(t, st.RTPSender, st.Pair.RTPDemux.lookup(net.IPv4(9, 9, 9, 9), 1))
}

func TestBindSockets_PublisherRTCPAddrSetFromSource(t *testing.T) {
	session := NewReflectorSession("s", NewSocketPairPool())
	st := newStream(session, sdpinfo.StreamInfo{}, 0)

	err := st.bindSockets(session.pool, net.IPv4(127, 0, 0, 1), false, net.IPv4(10, 0, 0, 5), 6000)
	require.NoError(t, err)
	defer st.Pair.Release()

	require.NotNil(t, st.publisherRTCPAddr)
	require.Equal(t, 6001, st.publisherRTCPAddr.Port)
	require.NotNil(t, st.publisherRTCPSink())
}
