package reflector

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"
)

const (
	// udpPortRangeLow and udpPortRangeHigh bound the adjacent-pair
	// allocation scan, per spec.md §4.3/§6.
	udpPortRangeLow  = 6970
	udpPortRangeHigh = 65534
)

type demuxKey struct {
	ip   string
	port int
}

// demuxer is the concurrent (src-ip, src-port) -> *Sender lookup table
// described in spec.md §4.3. A nil IP with port 0 is the wildcard entry,
// used by virtual (TCP-interleaved) pairs that have no source address to
// demux on.
type demuxer struct {
	mu      sync.RWMutex
	senders map[demuxKey]*Sender
}

func newDemuxer() *demuxer {
	return &demuxer{senders: make(map[demuxKey]*Sender)}
}

// register fails loudly if the key is already registered, matching the
// "invariant violation" framing in spec.md §4.3.
func (d *demuxer) register(ip net.IP, port int, s *Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := demuxKey{ip: ipKey(ip), port: port}
	if _, exists := d.senders[key]; exists {
		panic(fmt.Sprintf("reflector: demuxer key %v already registered", key))
	}
	d.senders[key] = s
}

func (d *demuxer) unregister(ip net.IP, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.senders, demuxKey{ip: ipKey(ip), port: port})
}

func (d *demuxer) hasEntry(ip net.IP, port int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.senders[demuxKey{ip: ipKey(ip), port: port}]
	return ok
}

func (d *demuxer) lookup(ip net.IP, port int) *Sender {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if s, ok := d.senders[demuxKey{ip: ipKey(ip), port: port}]; ok {
		return s
	}
	return d.senders[demuxKey{}]
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

// SocketPair is a bound UDP port pair (even=RTP, odd=RTCP), or a
// virtual pair standing in for a TCP-interleaved channel pair — spec.md
// §4.3.
type SocketPair struct {
	Virtual bool

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	rtpPort  int
	rtcpPort int

	RTPDemux  *demuxer
	RTCPDemux *demuxer

	refCount int32
	pool     *SocketPairPool
}

// RTPPort returns the bound (or virtual) RTP port.
func (sp *SocketPair) RTPPort() int { return sp.rtpPort }

// RTCPPort returns the bound RTCP port; for a bound pair this is always
// RTPPort()+1, the adjacency invariant in spec.md §3. A virtual pair
// reports 0 for both ports.
func (sp *SocketPair) RTCPPort() int { return sp.rtcpPort }

// JoinMulticast joins both sockets to a multicast group and applies the
// given TTL, grounded on the golang.org/x/net/ipv4 usage in the
// teacher's pkg/multicast.
func (sp *SocketPair) JoinMulticast(group net.IP, ttl int) error {
	if sp.Virtual {
		return nil
	}

	for _, conn := range []*net.UDPConn{sp.rtpConn, sp.rtcpConn} {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
			return fmt.Errorf("join multicast group: %w", err)
		}
		if err := pc.SetMulticastTTL(ttl); err != nil {
			return fmt.Errorf("set multicast ttl: %w", err)
		}
	}

	return nil
}

// ReadRTP reads one datagram from the RTP socket.
func (sp *SocketPair) ReadRTP(buf []byte) (n int, from *net.UDPAddr, err error) {
	return sp.rtpConn.ReadFromUDP(buf)
}

// ReadRTCP reads one datagram from the RTCP socket.
func (sp *SocketPair) ReadRTCP(buf []byte) (n int, from *net.UDPAddr, err error) {
	return sp.rtcpConn.ReadFromUDP(buf)
}

// WriteRTCP sends a datagram out of the RTCP socket.
func (sp *SocketPair) WriteRTCP(b []byte, to *net.UDPAddr) error {
	if sp.Virtual {
		return nil
	}
	_, err := sp.rtcpConn.WriteToUDP(b, to)
	return err
}

// udpReadBufSize is the scratch buffer size for the UDP demux loops;
// NewPacket copies out of it before the next read overwrites it.
const udpReadBufSize = 2048

// Serve runs the RTP and RTCP demux loops for a bound (non-virtual)
// pair, one goroutine per socket, per the "ReflectorSocket... reads all
// available datagrams, demultiplexes to Senders" model in spec.md §5.
// Each loop exits when its socket is closed.
func (sp *SocketPair) Serve() {
	if sp.Virtual {
		return
	}
	go sp.serveOne(sp.rtpConn, sp.RTPDemux, false)
	go sp.serveOne(sp.rtcpConn, sp.RTCPDemux, true)
}

func (sp *SocketPair) serveOne(conn *net.UDPConn, demux *demuxer, isRTCP bool) {
	buf := make([]byte, udpReadBufSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		sender := demux.lookup(from.IP, from.Port)
		if sender == nil {
			continue
		}
		sender.Ingest(NewPacket(buf[:n], isRTCP))
	}
}

// Release decrements the pool's reference count, closing the pair once
// the count reaches zero.
func (sp *SocketPair) Release() {
	if sp.pool != nil {
		sp.pool.release(sp)
	}
}

func (sp *SocketPair) close() {
	if sp.rtpConn != nil {
		sp.rtpConn.Close()
	}
	if sp.rtcpConn != nil {
		sp.rtcpConn.Close()
	}
}

// SocketPairPool allocates and reference-counts SocketPairs, scanning
// the adjacent-pair port range on miss — spec.md §4.3.
type SocketPairPool struct {
	mu    sync.Mutex
	pairs []*SocketPair
}

// NewSocketPairPool allocates an empty pool.
func NewSocketPairPool() *SocketPairPool {
	return &SocketPairPool{}
}

// NewVirtualPair returns a virtual SocketPair for TCP-interleaved
// transport: no OS ports are bound.
func (p *SocketPairPool) NewVirtualPair() *SocketPair {
	return &SocketPair{
		Virtual:   true,
		RTPDemux:  newDemuxer(),
		RTCPDemux: newDemuxer(),
		refCount:  1,
	}
}

// Get returns a SocketPair satisfying the demux rules in spec.md §4.3:
// if srcIP is non-zero, an existing pair with no demuxer entry for
// (srcIP, srcPort) may be reused; if desiredPort is nonzero the result
// must bind exactly that port or the call fails.
func (p *SocketPairPool) Get(localIP net.IP, desiredPort int, srcIP net.IP, srcPort int) (*SocketPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if srcIP != nil && !srcIP.IsUnspecified() {
		for _, sp := range p.pairs {
			if desiredPort != 0 && sp.rtpPort != desiredPort {
				continue
			}

			if sp.RTPDemux.hasEntry(srcIP, srcPort) {
				if desiredPort != 0 {
					return nil, fmt.Errorf("port %d unavailable", desiredPort)
				}
				continue
			}

			atomic.AddInt32(&sp.refCount, 1)
			return sp, nil
		}

		if desiredPort != 0 {
			return nil, fmt.Errorf("port %d unavailable", desiredPort)
		}
	}

	return p.create(localIP, desiredPort)
}

func (p *SocketPairPool) create(localIP net.IP, desiredPort int) (*SocketPair, error) {
	low, high := udpPortRangeLow, udpPortRangeHigh
	if desiredPort != 0 {
		low, high = desiredPort, desiredPort
	}

	for port := low; port <= high; port += 2 {
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localIP, Port: port})
		if err != nil {
			continue
		}

		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localIP, Port: port + 1})
		if err != nil {
			rtpConn.Close()
			continue
		}

		sp := &SocketPair{
			rtpConn:   rtpConn,
			rtcpConn:  rtcpConn,
			rtpPort:   rtpConn.LocalAddr().(*net.UDPAddr).Port,
			rtcpPort:  rtcpConn.LocalAddr().(*net.UDPAddr).Port,
			RTPDemux:  newDemuxer(),
			RTCPDemux: newDemuxer(),
			refCount:  1,
			pool:      p,
		}

		p.pairs = append(p.pairs, sp)
		return sp, nil
	}

	return nil, fmt.Errorf("no free adjacent UDP port pair in [%d, %d]", low, high)
}

func (p *SocketPairPool) release(sp *SocketPair) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if atomic.AddInt32(&sp.refCount, -1) > 0 {
		return
	}

	for i, cand := range p.pairs {
		if cand == sp {
			p.pairs = append(p.pairs[:i], p.pairs[i+1:]...)
			break
		}
	}

	sp.close()
}
