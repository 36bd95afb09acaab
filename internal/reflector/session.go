package reflector

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/sdpinfo"
)

// SetupParams carries the publisher-side connection details needed to
// bind a ReflectorSession's Streams, per spec.md §4.5/§4.6.
type SetupParams struct {
	LocalIP        net.IP
	SrcIP          net.IP
	SrcPort        int
	TCPInterleaved bool
}

// ReflectorSession binds one publisher's SDP-described Streams to the
// set of attached Subscribers — spec.md §4.6.
type ReflectorSession struct {
	// bucketMu is the "bucket" mutex from spec.md §5: it covers the
	// Subscriber list and every Stream/Sender invariant (the queue,
	// the keyframe-start pointer, bookmarks).
	bucketMu sync.Mutex

	streamID string
	streams  []*Stream
	isSetup  bool

	hasVideoKeyframe atomic.Bool

	pool *SocketPairPool

	// overbufferRate and maxFuturePacket come from internal/config.Config
	// (OverbufferRate, MaxFuturePacketSec) and are handed to every Stream's
	// Senders at Setup time, per spec.md §6.
	overbufferRate  float64
	maxFuturePacket time.Duration
}

// NewReflectorSession allocates an unbound session keyed by streamID.
func NewReflectorSession(streamID string, pool *SocketPairPool) *ReflectorSession {
	return &ReflectorSession{streamID: streamID, pool: pool}
}

// SetTuning installs the Sender tuning parameters sourced from
// internal/config.Config. Must be called before Setup, since it only
// takes effect for Streams created afterward.
func (rs *ReflectorSession) SetTuning(overbufferRate float64, maxFuturePacket time.Duration) {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()
	rs.overbufferRate = overbufferRate
	rs.maxFuturePacket = maxFuturePacket
}

// StreamID returns the session's stream-ID key, per spec.md §4.8.
func (rs *ReflectorSession) StreamID() string { return rs.streamID }

// IsSetup reports whether setup has already run successfully.
func (rs *ReflectorSession) IsSetup() bool {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()
	return rs.isSetup
}

// Streams returns the session's Streams in SDP order. Only valid after
// a successful Setup.
func (rs *ReflectorSession) Streams() []*Stream {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()
	return rs.streams
}

// Setup parses the cached SDP into StreamInfo values and binds a Stream
// per track, per spec.md §4.6. On any bind failure the partially
// constructed session is rolled back and the error is returned, per the
// "Bind failure" handling in spec.md §7.
func (rs *ReflectorSession) Setup(sdpText []byte, params SetupParams) error {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()

	if rs.isSetup {
		return fmt.Errorf("session %s: already set up", rs.streamID)
	}

	infos, err := sdpinfo.Parse(sdpText)
	if err != nil {
		return fmt.Errorf("session %s: %w", rs.streamID, err)
	}

	streams := make([]*Stream, len(infos))
	for i, info := range infos {
		st := newStream(rs, info, i)
		st.RTPSender.SetTuning(rs.overbufferRate, rs.maxFuturePacket)
		st.RTCPSender.SetTuning(rs.overbufferRate, rs.maxFuturePacket)
		if err := st.bindSockets(rs.pool, params.LocalIP, params.TCPInterleaved, params.SrcIP, params.SrcPort); err != nil {
			for _, bound := range streams[:i] {
				if bound.Pair != nil {
					bound.Pair.Release()
				}
			}
			return fmt.Errorf("session %s: %w", rs.streamID, err)
		}
		streams[i] = st
	}

	rs.streams = streams
	rs.isSetup = true
	return nil
}

// AddOutput attaches sub to every Stream's subscriber list, per
// spec.md §4.6.
func (rs *ReflectorSession) AddOutput(sub *SubscriberOutput) {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()
	for _, st := range rs.streams {
		st.addSubscriber(sub)
	}
}

// RemoveOutput detaches sub from every Stream's subscriber list.
func (rs *ReflectorSession) RemoveOutput(sub *SubscriberOutput) {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()
	for _, st := range rs.streams {
		st.removeSubscriber(sub)
	}
}

// TearDownAllOutputs tears down every attached Subscriber. The Session
// itself remains alive for the publisher until its own TEARDOWN, per
// spec.md §4.6.
func (rs *ReflectorSession) TearDownAllOutputs() {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()

	seen := make(map[*SubscriberOutput]struct{})
	for _, st := range rs.streams {
		for _, sub := range st.subscribers {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			sub.SetPlaying(false)
			sub.TearDown()
		}
		st.subscribers = nil
	}
}

// Close releases every Stream's SocketPair. Called when the publisher's
// own session tears down.
func (rs *ReflectorSession) Close() {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()
	for _, st := range rs.streams {
		if st.Pair != nil {
			st.Pair.Release()
		}
	}
}

// setHasVideoKeyframeUpdate implements spec.md §4.6's
// set_has_video_keyframe_update(bool).
func (rs *ReflectorSession) setHasVideoKeyframeUpdate(v bool) {
	rs.hasVideoKeyframe.Store(v)
}

func (rs *ReflectorSession) hasVideoKeyframeUpdate() bool {
	return rs.hasVideoKeyframe.Load()
}

// Tick runs one scheduler tick across every Stream's Senders, under
// the bucket mutex for its duration (spec.md §5: "reflect_packets
// holds this mutex for its duration").
func (rs *ReflectorSession) Tick(now time.Time) {
	rs.bucketMu.Lock()
	defer rs.bucketMu.Unlock()

	for _, st := range rs.streams {
		st.RTPSender.Reflect(now)
		st.RTCPSender.Reflect(now)
	}
}
