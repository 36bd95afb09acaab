package reflector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// WriteResult is the outcome of a write_packet call — spec.md §4.7.
type WriteResult int

// WriteResult values.
const (
	WriteOk WriteResult = iota
	WriteWouldBlock
	WriteError
)

// PacketWriter is the outbound transport a SubscriberOutput writes
// through: either a TCP-interleaved channel pair sharing the RTSP
// connection, or a UDP socket pair. Grounded on the buffered
// writer-goroutine pattern the teacher uses for its ServerStream
// write queue: a bounded channel stands in for the underlying socket's
// send buffer, so a full channel is this package's "would block".
type PacketWriter interface {
	// WriteBurstBegin marks the start of a reflect cycle's burst of
	// writes to this subscriber, mirroring the QTSS API's
	// WriteBurstBegin flag passed on the first packet of a cycle.
	WriteBurstBegin()

	// WritePacket attempts to hand payload to channel ch, scheduled for
	// delivery at transmitAt. It returns true if the write had to be
	// dropped because the outbound queue is full (would-block), false
	// if the payload was accepted.
	WritePacket(ch int, payload []byte, transmitAt time.Time) (blocked bool)
}

// rtpStreamState is the delivery state, for both directions (RTP and
// RTCP), of one Stream attached to a Subscriber.
type rtpStreamState struct {
	rtpChannel  int
	rtcpChannel int

	// firstSeqNum, when non-nil, is the advertised RTP-Info sequence
	// number below which incoming packets are dropped; the filter
	// self-disables after the first in-range packet passes —
	// spec.md §4.7.
	firstSeqNum   *uint16
	filterPassed  bool
	lastRTPID     uint64
	lastRTCPID    uint64
}

// SubscriberOutput is a per-player sink bound to a ReflectorSession,
// spec.md §4.7. It holds one bookmark per Sender (RTP and RTCP, per
// Stream) and enforces the write_packet contract.
type SubscriberOutput struct {
	mu sync.Mutex

	sessionID string
	streams   []rtpStreamState

	// bookmarks holds the last-delivered *Packet per Sender, indexed
	// by senderIndex = streamIndex*2 + {0:rtp, 1:rtcp}. A nil entry
	// means "no bookmark yet" (spec.md §4.4 step 4).
	bookmarks []*Packet

	bufferDelay  time.Duration
	maxSendAhead time.Duration
	writer       PacketWriter

	// playing reflects the bound RTSP/RTP session's state; the RTSP
	// session FSM flips this via SetPlaying on PLAY/PAUSE/TEARDOWN.
	// This resolves spec.md §9 Open Question (a): the source's
	// dead-code stray-semicolon branch is not reproduced here —
	// delivery is gated strictly on "is the session in the playing
	// state", full stop.
	playing atomic.Bool

	tornDown atomic.Bool
}

// NewSubscriberOutput allocates a SubscriberOutput with one bookmark
// slot per Sender for numStreams Streams. defaultBufferDelay seeds the
// buffer_delay used to compute each packet's transmit_time
// (internal/config.Config.DefaultBufferDelaySec) until the reactive
// WouldBlock auto-tune in WritePacket adjusts it; maxSendAhead caps how
// far into the future a transmit_time may be scheduled
// (MaxSendAheadSec) — spec.md §6.
func NewSubscriberOutput(sessionID string, numStreams int, writer PacketWriter, defaultBufferDelay, maxSendAhead time.Duration) *SubscriberOutput {
	return &SubscriberOutput{
		sessionID:    sessionID,
		streams:      make([]rtpStreamState, numStreams),
		bookmarks:    make([]*Packet, numStreams*2),
		writer:       writer,
		bufferDelay:  defaultBufferDelay,
		maxSendAhead: maxSendAhead,
	}
}

// SetWriter attaches the connection-backed transport once it is known
// (TCP-interleaved channels, or a bound UDP socket pair).
func (s *SubscriberOutput) SetWriter(w PacketWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// SetPlaying updates the playing-state gate used by write_packet.
func (s *SubscriberOutput) SetPlaying(v bool) {
	s.playing.Store(v)
}

// IsPlaying reports whether this subscriber's RTP session is currently
// in the playing state. spec.md §9 Open Question (a): implemented as a
// plain state check, the dead-code branch in the source is dropped.
func (s *SubscriberOutput) IsPlaying() bool {
	return s.playing.Load()
}

// SetFirstSequenceNumber installs the RTP-Info pre-filter threshold for
// one stream, per spec.md §4.7.
func (s *SubscriberOutput) SetFirstSequenceNumber(streamIndex int, seq uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := seq
	s.streams[streamIndex].firstSeqNum = &v
	s.streams[streamIndex].filterPassed = false
}

// SetChannels records the TCP-interleaved channel pair allocated to one
// stream (used by PacketWriter implementations that route by channel).
func (s *SubscriberOutput) SetChannels(streamIndex, rtpChan, rtcpChan int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[streamIndex].rtpChannel = rtpChan
	s.streams[streamIndex].rtcpChannel = rtcpChan
}

// Bookmark returns the current bookmark packet for a given sender
// index, or nil. Callers must hold the owning ReflectorSession's bucket
// mutex — bookmarks are logically part of the session's Stream/Sender
// invariants (spec.md §5).
func (s *SubscriberOutput) Bookmark(senderIndex int) *Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookmarks[senderIndex]
}

// SetBookmark relocates the bookmark for a given sender index.
func (s *SubscriberOutput) SetBookmark(senderIndex int, p *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[senderIndex] = p
}

// BufferDelay returns the subscriber's current client buffer delay.
func (s *SubscriberOutput) BufferDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferDelay
}

// TearDown marks this subscriber torn down and clears every bookmark,
// per the invariant in spec.md §8 ("after tear_down_all_outputs ... every
// bookmark slot on former subscribers is null").
func (s *SubscriberOutput) TearDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tornDown.Store(true)
	for i := range s.bookmarks {
		s.bookmarks[i] = nil
	}
}

// WritePacket implements the contract in spec.md §4.7.
func (s *SubscriberOutput) WritePacket(pkt *Packet, streamIndex int, isRTCP bool, isFirst bool) WriteResult {
	if !s.IsPlaying() {
		return WriteOk
	}
	if streamIndex < 0 || streamIndex >= len(s.streams) {
		return WriteOk
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.streams[streamIndex]

	rtpPkt := rtpPacketView(pkt.Data)

	if !isRTCP && st.firstSeqNum != nil && !st.filterPassed {
		if rtpPkt.valid && rtpPkt.seq < *st.firstSeqNum {
			return WriteOk
		}
		st.filterPassed = true
	}

	packetID := pkt.SeqID
	if isRTCP {
		if packetID <= st.lastRTCPID {
			return WriteOk
		}
	} else {
		if packetID <= st.lastRTPID {
			return WriteOk
		}
	}

	now := time.Now()

	if s.writer == nil {
		return WriteWouldBlock
	}

	if isFirst {
		s.writer.WriteBurstBegin()
	}

	ch := st.rtcpChannel
	if !isRTCP {
		ch = st.rtpChannel
	}

	// transmit_time = now - lateness + buffer_delay_adjustment
	// (spec.md §4.7). Nothing upstream of this call threads a reflect
	// cycle's scheduling lateness through to write_packet, so lateness
	// is always zero here. buffer_delay_adjustment is the configured
	// buffer delay minus how long the packet already sat in the queue
	// for RTP, zero for RTCP (RTCP has no buffer-delay smoothing).
	var bufferDelayAdjustment time.Duration
	if !isRTCP {
		bufferDelayAdjustment = s.bufferDelay - now.Sub(pkt.Arrival)
	}
	transmitAt := now.Add(bufferDelayAdjustment)
	if s.maxSendAhead > 0 {
		if limit := now.Add(s.maxSendAhead); transmitAt.After(limit) {
			transmitAt = limit
		}
	}

	if blocked := s.writer.WritePacket(ch, pkt.Data, transmitAt); blocked {
		if isFirst {
			s.bufferDelay = now.Sub(pkt.Arrival)
		}
		return WriteWouldBlock
	}

	if isRTCP {
		st.lastRTCPID = packetID
	} else {
		st.lastRTPID = packetID
	}

	return WriteOk
}

type rtpHeaderView struct {
	valid bool
	seq   uint16
}

// rtpPacketView extracts the sequence number field needed by the
// RTP-Info pre-filter.
func rtpPacketView(data []byte) rtpHeaderView {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return rtpHeaderView{}
	}
	return rtpHeaderView{valid: true, seq: pkt.SequenceNumber}
}
