package reflector

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/sdpinfo"
)

// bitrateAvgInterval is how often the Stream's bit-rate average is
// recomputed from the accumulated byte counter — spec.md §4.4 step 3.
const bitrateAvgInterval = 30 * time.Second

// Stream is one media track of a ReflectorSession: its StreamInfo, its
// bound SocketPair, and its RTP/RTCP Senders — spec.md §4.5.
type Stream struct {
	Info  sdpinfo.StreamInfo
	Index int

	Pair       *SocketPair
	RTPSender  *Sender
	RTCPSender *Sender

	// publisherRTCPAddr is where this Stream's RTCP Sender sends its
	// periodic Receiver Reports, set from the publisher's source
	// address at bind time. Nil for TCP-interleaved streams, which
	// have no standalone RTCP transport the Sender can reach outside
	// the RTSP connection's own write path.
	publisherRTCPAddr *net.UDPAddr

	session *ReflectorSession

	bitrateBytes     atomic.Uint64
	bitrateAvg       atomic.Uint64
	bitrateResetAt   time.Time

	// subscribers is guarded by session.bucketMu, per the discipline
	// in spec.md §5: ReflectorSession's bucket mutex covers the
	// Subscriber list and the Stream/Sender invariants.
	subscribers []*SubscriberOutput
}

// newStream allocates a Stream bound to the given session at index idx.
func newStream(session *ReflectorSession, info sdpinfo.StreamInfo, idx int) *Stream {
	s := &Stream{
		Info:           info,
		Index:          idx,
		session:        session,
		bitrateResetAt: time.Now(),
	}
	s.RTPSender = newSender(s, false)
	s.RTCPSender = newSender(s, true)
	return s
}

// bindSockets implements the binding semantics of spec.md §4.5.
func (s *Stream) bindSockets(pool *SocketPairPool, localIP net.IP, tcpInterleaved bool, srcIP net.IP, srcPort int) error {
	if tcpInterleaved {
		s.Pair = pool.NewVirtualPair()
		s.Pair.RTPDemux.register(nil, 0, s.RTPSender)
		s.Pair.RTCPDemux.register(nil, 0, s.RTCPSender)
		return nil
	}

	bindIP := s.Info.DestIPAddr
	if bindIP == nil || isMulticast(bindIP) {
		bindIP = net.IPv4zero
	}
	if bindIP.Equal(net.IPv4zero) && localIP != nil && !isMulticast(s.Info.DestIPAddr) {
		bindIP = localIP
	}

	pair, err := pool.Get(bindIP, s.Info.Port, srcIP, srcPort)
	if err != nil && s.Info.SetupToReceive {
		// Retry once with port=0: let the OS pick, per spec.md §4.5.
		pair, err = pool.Get(bindIP, 0, srcIP, srcPort)
	}
	if err != nil {
		return fmt.Errorf("bind stream %d: %w", s.Index, err)
	}

	pair.Serve()

	if isMulticast(s.Info.DestIPAddr) {
		ttl := s.Info.TTL
		if ttl == 0 {
			ttl = 1
		}
		if err := pair.JoinMulticast(s.Info.DestIPAddr, ttl); err != nil {
			pair.Release()
			return fmt.Errorf("join multicast for stream %d: %w", s.Index, err)
		}
	}

	pair.RTPDemux.register(srcIP, srcPort, s.RTPSender)
	pair.RTCPDemux.register(srcIP, srcPort, s.RTCPSender)

	if srcIP != nil && srcPort != 0 {
		s.publisherRTCPAddr = &net.UDPAddr{IP: srcIP, Port: srcPort + 1}
	}

	s.Pair = pair
	return nil
}

// publisherRTCPSink returns the rtcpSink this Stream's RTCP Sender
// writes its Receiver Reports through, or nil if none is reachable
// (TCP-interleaved streams have no out-of-band RTCP transport).
func (s *Stream) publisherRTCPSink() rtcpSink {
	if s.Pair == nil || s.Pair.Virtual || s.publisherRTCPAddr == nil {
		return nil
	}
	return streamRTCPSink{stream: s}
}

type streamRTCPSink struct {
	stream *Stream
}

func (s streamRTCPSink) WriteRTCP(b []byte) error {
	return s.stream.Pair.WriteRTCP(b, s.stream.publisherRTCPAddr)
}

func isMulticast(ip net.IP) bool {
	return ip != nil && ip.IsMulticast()
}

// PushPacket is the TCP-interleaved ingress path (spec.md §4.8): the
// RTSP connection's own goroutine routes a data frame straight to the
// matching Stream's Sender.
func (s *Stream) PushPacket(data []byte, isRTCP bool) {
	sender := s.RTPSender
	if isRTCP {
		sender = s.RTCPSender
	}
	sender.Ingest(NewPacket(data, isRTCP))
}

// addBitrate accumulates RTP packet bytes in an atomic counter and takes
// no lock itself; its caller, Sender.appendPacket, runs under the bucket
// mutex.
func (s *Stream) addBitrate(n int) {
	s.bitrateBytes.Add(uint64(n))
}

// BitrateAverage returns the most recently computed average bytes/sec.
func (s *Stream) BitrateAverage() uint64 {
	return s.bitrateAvg.Load()
}

func (s *Stream) maybeUpdateBitrateAverage(now time.Time) {
	if now.Sub(s.bitrateResetAt) < bitrateAvgInterval {
		return
	}
	total := s.bitrateBytes.Swap(0)
	s.bitrateAvg.Store(total / uint64(bitrateAvgInterval.Seconds()))
	s.bitrateResetAt = now
}

// addSubscriber appends sub to this Stream's subscriber list. Callers
// must hold session.bucketMu.
func (s *Stream) addSubscriber(sub *SubscriberOutput) {
	s.subscribers = append(s.subscribers, sub)
}

// removeSubscriber removes sub from this Stream's subscriber list.
// Callers must hold session.bucketMu.
func (s *Stream) removeSubscriber(sub *SubscriberOutput) {
	for i, cand := range s.subscribers {
		if cand == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// senderIndexBase returns this stream's sender-index base used to index
// into a SubscriberOutput's bookmark slice: rtp = base, rtcp = base+1.
func (s *Stream) senderIndexBase() int {
	return s.Index * 2
}
