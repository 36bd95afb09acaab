package rtspsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/reflector"
)

// Role distinguishes a publisher (ANNOUNCE/RECORD) session from a
// subscriber (DESCRIBE/PLAY) session, per spec.md §4.8.
type Role int

// Role values.
const (
	RolePublisher Role = iota
	RoleSubscriber
)

// RTP session states, modeled with looplab/fsm the way the SIP dialog
// layer cited in DESIGN.md models its own call state machine. This is the
// "bound RTP session" state referenced by the write_packet contract in
// spec.md §4.7 — distinct from the per-connection request-processing
// phases in spec.md §4.8, which this package expresses as the natural
// sequential flow of parse -> route -> respond in HandleRequest rather
// than as an explicit state enum (see DESIGN.md).
const (
	stateInit      = "init"
	statePlaying   = "playing"
	stateRecording = "recording"
	stateTornDown  = "torn_down"

	eventRecord   = "record"
	eventPlay     = "play"
	eventPause    = "pause"
	eventTearDown = "teardown"
)

// Session is one RTSP/RTP session: either the publisher bound to a
// ReflectorSession, or a subscriber's SubscriberOutput plus the
// bookkeeping spec.md §4.8 assigns to it (interleaved channel counter,
// session ID, idle timeout).
type Session struct {
	mu sync.Mutex

	ID       string
	StreamID string
	Role     Role

	Reflector  *reflector.ReflectorSession
	Subscriber *reflector.SubscriberOutput

	machine *fsm.FSM

	nextChannel  int
	lastActivity time.Time
	timeout      time.Duration
}

// NewSession allocates a Session in the init state.
func NewSession(id, streamID string, role Role, timeout time.Duration) *Session {
	s := &Session{
		ID:           id,
		StreamID:     streamID,
		Role:         role,
		lastActivity: time.Now(),
		timeout:      timeout,
	}

	s.machine = fsm.NewFSM(stateInit, fsm.Events{
		{Name: eventRecord, Src: []string{stateInit}, Dst: stateRecording},
		{Name: eventPlay, Src: []string{stateInit, statePlaying}, Dst: statePlaying},
		{Name: eventPause, Src: []string{statePlaying}, Dst: stateInit},
		{Name: eventTearDown, Src: []string{stateInit, statePlaying, stateRecording}, Dst: stateTornDown},
	}, fsm.Callbacks{
		"enter_" + statePlaying: func(_ context.Context, _ *fsm.Event) {
			if s.Subscriber != nil {
				s.Subscriber.SetPlaying(true)
			}
		},
		"leave_" + statePlaying: func(_ context.Context, _ *fsm.Event) {
			if s.Subscriber != nil {
				s.Subscriber.SetPlaying(false)
			}
		},
	})

	return s
}

// NextChannelPair allocates the next interleaved RTP/RTCP channel pair
// for a SETUP, per spec.md §4.8: "each RTSP session owns a counter
// starting at 0, incremented by 2 per SETUP".
func (s *Session) NextChannelPair() (rtp, rtcp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rtp = s.nextChannel
	rtcp = rtp + 1
	s.nextChannel += 2
	return rtp, rtcp
}

// Record transitions a publisher session into the ingest state.
func (s *Session) Record(ctx context.Context) error {
	return s.machine.Event(ctx, eventRecord)
}

// Play transitions a subscriber session to playing.
func (s *Session) Play(ctx context.Context) error {
	return s.machine.Event(ctx, eventPlay)
}

// Pause transitions a subscriber session out of playing.
func (s *Session) Pause(ctx context.Context) error {
	return s.machine.Event(ctx, eventPause)
}

// TearDown transitions the session to its terminal state.
func (s *Session) TearDown(ctx context.Context) error {
	return s.machine.Event(ctx, eventTearDown)
}

// State returns the session's current FSM state.
func (s *Session) State() string {
	return s.machine.Current()
}

// Touch refreshes the idle timer, per the publisher/subscriber timeout
// rules in spec.md §5.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// Expired reports whether this session has been idle longer than its
// configured timeout.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity) > s.timeout
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{id=%s stream=%s state=%s}", s.ID, s.StreamID, s.State())
}
