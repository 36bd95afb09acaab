package reflector

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketPairPool_AdjacentPorts(t *testing.T) {
	pool := NewSocketPairPool()

	sp, err := pool.Get(net.IPv4(127, 0, 0, 1), 0, nil, 0)
	require.NoError(t, err)
	defer sp.Release()

	require.Equal(t, sp.RTPPort()+1, sp.RTCPPort())
	require.Zero(t, sp.RTPPort()%2, "RTP port must be even")
}

func TestSocketPairPool_ExactPortRequest_ConflictsWithExistingSource(t *testing.T) {
	pool := NewSocketPairPool()

	src := net.IPv4(10, 0, 0, 1)

	first, err := pool.Get(net.IPv4(127, 0, 0, 1), 0, src, 6000)
	require.NoError(t, err)
	defer first.Release()
	first.RTPDemux.register(src, 6000, &Sender{})

	_, err = pool.Get(net.IPv4(127, 0, 0, 1), first.RTPPort(), src, 6000)
	require.Error(t, err, "requesting the exact port already demuxing this source must fail")
}

func TestSocketPairPool_ReuseBySourceIP(t *testing.T) {
	pool := NewSocketPairPool()

	srcA := net.IPv4(10, 0, 0, 1)
	srcB := net.IPv4(10, 0, 0, 2)

	first, err := pool.Get(net.IPv4(127, 0, 0, 1), 0, srcA, 6000)
	require.NoError(t, err)
	defer first.Release()
	first.RTPDemux.register(srcA, 6000, &Sender{})

	second, err := pool.Get(net.IPv4(127, 0, 0, 1), 0, srcB, 7000)
	require.NoError(t, err)
	defer second.Release()

	require.Equal(t, first.RTPPort(), second.RTPPort(), "a pair with no demux entry for srcB must be reused")
}

func TestDemuxer_WildcardFallback(t *testing.T) {
	d := newDemuxer()
	s := &Sender{}
	d.register(nil, 0, s)

	require.Same(t, s, d.lookup(net.IPv4(1, 2, 3, 4), 9999))
}

func TestDemuxer_RegisterDuplicatePanics(t *testing.T) {
	d := newDemuxer()
	ip := net.IPv4(1, 2, 3, 4)
	d.register(ip, 111, &Sender{})

	require.Panics(t, func() {
		d.register(ip, 111, &Sender{})
	})
}

func TestVirtualPair_NoOSPorts(t *testing.T) {
	pool := NewSocketPairPool()
	vp := pool.NewVirtualPair()

	require.True(t, vp.Virtual)
	require.NoError(t, vp.JoinMulticast(net.IPv4(224, 0, 0, 1), 1))
	require.NoError(t, vp.WriteRTCP([]byte{1, 2, 3}, nil))
}
