package reflector

import (
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"golang.org/x/time/rate"
)

// Timing constants from spec.md §4.4.
const (
	relocatePacketAge = 1 * time.Second
	maxPacketAge      = 20 * time.Second
	overbufferSeconds = 10 * time.Second
	rrInterval        = 5 * time.Second
)

// Sender owns one Stream's per-direction packet queue and drives
// egress to every attached Subscriber — spec.md §4.4.
type Sender struct {
	stream *Stream
	isRTCP bool

	// queue is guarded by the owning ReflectorSession's bucket mutex
	// (spec.md §5: "reflect_packets holds this mutex for its
	// duration").
	queue []*Packet

	keyframeStart *Packet
	hasNewPackets atomic.Bool
	lastRRSent    time.Time

	seqCounter atomic.Uint64

	// pacer rate-limits reflect cycles to at most one per interval set
	// by SetSendInterval, grounded on the per-connection pacing in
	// winkmichael-wink-rtsp-bench. newSender starts it unlimited
	// (rate.Inf), and it stays so until SetSendInterval is called.
	pacer *rate.Limiter

	// overbufferWindow is overbufferSeconds scaled by the configured
	// OverbufferRate (internal/config.Config), set by SetTuning.
	overbufferWindow time.Duration

	// maxFuturePacket clamps an ingested packet's arrival timestamp to
	// at most this far ahead of now, set by SetTuning.
	maxFuturePacket time.Duration
}

func newSender(stream *Stream, isRTCP bool) *Sender {
	return &Sender{
		stream:           stream,
		isRTCP:           isRTCP,
		pacer:            rate.NewLimiter(rate.Inf, 1),
		overbufferWindow: overbufferSeconds,
	}
}

// SetTuning configures the burst-allowance window and ingress
// future-timestamp clamp read from internal/config.Config
// (OverbufferRate, MaxFuturePacketSec) — spec.md §6.
func (s *Sender) SetTuning(overbufferRate float64, maxFuturePacket time.Duration) {
	if overbufferRate > 0 {
		s.overbufferWindow = time.Duration(float64(overbufferSeconds) * overbufferRate)
	}
	s.maxFuturePacket = maxFuturePacket
}

// SetSendInterval configures the minimum gap between reflect cycles.
func (s *Sender) SetSendInterval(d time.Duration) {
	if d <= 0 {
		s.pacer = rate.NewLimiter(rate.Inf, 1)
		return
	}
	s.pacer = rate.NewLimiter(rate.Every(d), 1)
}

// senderIndex is this Sender's slot in a SubscriberOutput's bookmark
// slice.
func (s *Sender) senderIndex() int {
	base := s.stream.senderIndexBase()
	if s.isRTCP {
		return base + 1
	}
	return base
}

// Ingest is the ingress entry point used by both the UDP demux loop and
// TCP-interleaved push_packet path. It takes the owning ReflectorSession's
// bucket mutex for its duration, the same discipline reflect_packets
// follows (spec.md §5); the bit-rate counter that appendPacket bumps is
// atomic, but the bump also happens while that mutex is held.
func (s *Sender) Ingest(pkt *Packet) {
	s.stream.session.bucketMu.Lock()
	defer s.stream.session.bucketMu.Unlock()
	s.appendPacket(pkt)
}

// appendPacket is the ingress path, spec.md §4.4 "append_packet".
// Callers must hold the owning ReflectorSession's bucket mutex.
func (s *Sender) appendPacket(pkt *Packet) {
	pkt.SeqID = s.seqCounter.Add(1)

	if s.maxFuturePacket > 0 {
		if limit := time.Now().Add(s.maxFuturePacket); pkt.Arrival.After(limit) {
			pkt.Arrival = limit
		}
	}

	if !s.isRTCP {
		isVideoKeyframe := s.stream.Info.IsH264Video90000() && isKeyframeStart(pkt.Data)

		switch {
		case isVideoKeyframe:
			if s.keyframeStart != nil {
				s.keyframeStart.SetNeededByOutput(false)
			}
			pkt.SetNeededByOutput(true)
			s.keyframeStart = pkt
			s.stream.session.setHasVideoKeyframeUpdate(true)

		case s.stream.Info.IsAudio && s.stream.session.hasVideoKeyframeUpdate():
			if s.keyframeStart != nil {
				s.keyframeStart.SetNeededByOutput(false)
			}
			pkt.SetNeededByOutput(true)
			s.keyframeStart = pkt
			s.stream.session.setHasVideoKeyframeUpdate(false)
		}

		s.stream.addBitrate(pkt.Len())
	}

	s.hasNewPackets.Store(true)
	s.queue = append(s.queue, pkt)
}

// Reflect is the egress path, spec.md §4.4 "reflect_packets". Callers
// must hold the owning ReflectorSession's bucket mutex.
func (s *Sender) Reflect(now time.Time) {
	if !s.pacer.Allow() {
		return
	}
	if !s.hasNewPackets.Load() {
		return
	}
	s.hasNewPackets.Store(false)

	if s.isRTCP {
		if now.Sub(s.lastRRSent) > rrInterval {
			s.sendReceiverReport(s.stream.publisherRTCPSink())
			s.lastRRSent = now
		}
	}

	s.stream.maybeUpdateBitrateAverage(now)

	for _, sub := range s.stream.subscribers {
		s.reflectToSubscriber(sub, now)
	}

	s.removeOldPackets(now)
}

// reflectToSubscriber implements steps 4-5 of spec.md §4.4 for one
// Subscriber.
func (s *Sender) reflectToSubscriber(sub *SubscriberOutput, now time.Time) {
	idx := s.senderIndex()
	bookmark := sub.Bookmark(idx)

	start := -1

	if bookmark != nil {
		for i, p := range s.queue {
			if p == bookmark {
				start = i
				break
			}
		}
	}

	if start == -1 {
		start = s.chooseStartIndex(now)
		if start == -1 {
			return
		}
	}

	isFirst := true
	last := bookmark
	for i := start; i < len(s.queue); i++ {
		pkt := s.queue[i]
		result := sub.WritePacket(pkt, s.stream.Index, s.isRTCP, isFirst)
		isFirst = false

		if result == WriteWouldBlock {
			break
		}
		last = pkt
	}

	if last != nil {
		last = s.maybeRelocateBookmark(last, now)
		last.SetNeededByOutput(true)
		sub.SetBookmark(idx, last)
	}
}

// chooseStartIndex picks a starting packet for a subscriber with no
// bookmark yet: the keyframe-start packet if present, else the oldest
// packet no older than overbufferWindow (overbufferSeconds scaled by the
// rate given to SetTuning) — spec.md §4.4 step 4.
func (s *Sender) chooseStartIndex(now time.Time) int {
	if s.keyframeStart != nil {
		for i, p := range s.queue {
			if p == s.keyframeStart {
				return i
			}
		}
	}

	for i, p := range s.queue {
		if p.Age(now) <= s.overbufferWindow {
			return i
		}
	}

	return -1
}

// maybeRelocateBookmark implements the "stale bookmark" rule in
// spec.md §4.4 step 5 / boundary behaviour in §8: if bookmark is older
// than RELOCATE_PACKET_AGE and a strictly newer keyframe is available,
// the bookmark jumps to the keyframe-start packet instead.
func (s *Sender) maybeRelocateBookmark(bookmark *Packet, now time.Time) *Packet {
	if s.keyframeStart == nil || s.keyframeStart == bookmark {
		return bookmark
	}
	if bookmark.Age(now) <= relocatePacketAge {
		return bookmark
	}
	if !s.keyframeStart.Arrival.After(bookmark.Arrival) {
		return bookmark
	}

	s.stream.session.setHasVideoKeyframeUpdate(true)
	return s.keyframeStart
}

// removeOldPackets is the aging pass, spec.md §4.4 step 6.
func (s *Sender) removeOldPackets(now time.Time) {
	cut := 0
	for _, p := range s.queue {
		if p == s.keyframeStart {
			break
		}
		if p.Age(now) <= maxPacketAge {
			break
		}
		if p.NeededByOutput() {
			p.SetNeededByOutput(false)
			break
		}
		cut++
	}
	if cut > 0 {
		s.queue = s.queue[cut:]
	}
}

// rtcpSink is where a Sender writes its periodic Receiver Reports.
type rtcpSink interface {
	WriteRTCP(b []byte) error
}

// sendReceiverReport emits a compound RR+SDES (CNAME "reflector") to the
// publisher. No APP packet is included. Reflect calls it at most once per
// rrInterval, and only on a cycle in which the RTCP Sender has new packets.
func (s *Sender) sendReceiverReport(sink rtcpSink) {
	if sink == nil {
		return
	}

	pkts := []rtcp.Packet{
		&rtcp.ReceiverReport{},
		&rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Items: []rtcp.SourceDescriptionItem{{
					Type: rtcp.SDESCNAME,
					Text: "reflector",
				}},
			}},
		},
	}

	buf, err := rtcp.Marshal(pkts)
	if err != nil {
		return
	}

	sink.WriteRTCP(buf)
}
