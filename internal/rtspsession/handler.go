package rtspsession

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/config"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/reflector"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtsp/base"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtsp/headers"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/sdpinfo"
)

// publicMethods is the Public header advertised on OPTIONS, per
// spec.md §4.8.
const publicMethods = "DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE, OPTIONS, ANNOUNCE, RECORD"

// ConnContext carries the per-connection state a Handler needs across
// a sequence of requests on the same RTSP connection: the local/remote
// addresses for socket binding and, once assigned, this connection's
// Session.
type ConnContext struct {
	LocalIP  net.IP
	RemoteIP net.IP
	RemotePort int

	Session *Session
}

// Handler routes parsed RTSP requests to the reflector core, per
// spec.md §4.8-4.9.
type Handler struct {
	SDP      *SDPCache
	Sessions *registry[string, *reflector.ReflectorSession]
	RTP      *registry[string, *Session]
	Pool     *reflector.SocketPairPool

	Config config.Config
}

// NewHandler wires a fresh set of registries around pool, reading its
// tuning (RTSP idle timeout, buffer delay, send-ahead/overbuffer/
// future-packet clamps) from cfg.
func NewHandler(pool *reflector.SocketPairPool, cfg config.Config) *Handler {
	return &Handler{
		SDP:      NewSDPCache(),
		Sessions: newRegistry[string, *reflector.ReflectorSession](),
		RTP:      newRegistry[string, *Session](),
		Pool:     pool,
		Config:   cfg,
	}
}

// HandleRequest dispatches req to the method-specific handler and
// always echoes CSeq, per spec.md §6.
func (h *Handler) HandleRequest(conn *ConnContext, req *base.Request) *base.Response {
	res := h.route(conn, req)

	if cseq := req.Header.Get("CSeq"); cseq != "" {
		res.Header.Set("CSeq", cseq)
	}
	if conn.Session != nil {
		res.Header.Set("Session", conn.Session.ID)
	}

	return res
}

func (h *Handler) route(conn *ConnContext, req *base.Request) *base.Response {
	switch req.Method {
	case base.Options:
		return h.handleOptions(req)
	case base.Announce:
		return h.handleAnnounce(req)
	case base.Describe:
		return h.handleDescribe(req)
	case base.Setup:
		return h.handleSetup(conn, req)
	case base.Record:
		return h.handleRecord(conn, req)
	case base.Play:
		return h.handlePlay(conn, req)
	case base.Pause:
		if conn.Session == nil || conn.Session.Reflector == nil {
			return errorResponse(base.StatusNotFound)
		}
		if sessionHeaderMismatch(conn, req) {
			return errorResponse(base.StatusSessionNotFound)
		}
		if err := conn.Session.Pause(context.Background()); err != nil {
			return errorResponse(base.StatusPreconditionFailed)
		}
		return okResponse()
	case base.Teardown:
		return h.handleTeardown(conn, req)
	default:
		return errorResponse(base.StatusBadRequest)
	}
}

func (h *Handler) handleOptions(req *base.Request) *base.Response {
	if req.Header.Get("CSeq") == "" {
		return errorResponse(base.StatusBadRequest)
	}
	res := okResponse()
	res.Header.Set("Public", publicMethods)
	return res
}

// handleAnnounce stores the SDP body under the URL's cache key,
// spec.md §4.8.
func (h *Handler) handleAnnounce(req *base.Request) *base.Response {
	if len(req.Body) == 0 {
		return errorResponse(base.StatusUnsupportedMediaType)
	}
	if _, err := sdpinfo.Parse(req.Body); err != nil {
		return errorResponse(base.StatusUnsupportedMediaType)
	}

	h.SDP.Set(req.URL, req.Body)
	return okResponse()
}

// handleDescribe returns the cached SDP rewritten through the local-SDP
// collaborator, spec.md §8's SDP round-trip property.
func (h *Handler) handleDescribe(req *base.Request) *base.Response {
	raw, ok := h.SDP.Get(req.URL)
	if !ok {
		return errorResponse(base.StatusNotFound)
	}

	local, err := sdpinfo.BuildLocalSDP(raw, net.IPv4(127, 0, 0, 1))
	if err != nil {
		return errorResponse(base.StatusUnsupportedMediaType)
	}

	res := okResponse()
	res.Header.Set("Content-Type", "application/sdp")
	res.Header.Set("Content-Length", strconv.Itoa(len(local)))
	res.Body = local
	return res
}

// handleSetup implements spec.md §4.8's SETUP routing. The first SETUP
// from a publisher binds every Stream the SDP describes in one call
// (spec.md §4.6); subsequent per-track SETUPs from the same publisher
// just allocate that track's transport.
func (h *Handler) handleSetup(conn *ConnContext, req *base.Request) *base.Response {
	transport, err := headers.ReadTransport(req.Header.Get("Transport"))
	if err != nil {
		return errorResponse(base.StatusBadRequest)
	}

	streamID := req.StreamID()
	trackIndex := trackIndexFromURL(req.URL)
	isPublisher := transport.Mode != nil && *transport.Mode == headers.ModeRecord

	sdpText, hasSDP := h.SDP.Get(streamID)
	if !isPublisher && !hasSDP {
		return errorResponse(base.StatusNotFound)
	}

	refSess := h.Sessions.GetOrInsert(streamID, func() *reflector.ReflectorSession {
		rs := reflector.NewReflectorSession(streamID, h.Pool)
		rs.SetTuning(h.Config.OverbufferRate, h.Config.MaxFuturePacket())
		return rs
	})

	// A subscriber can only attach once the publisher's own SETUP has
	// bound the Streams the SDP describes (spec.md §4.6: "on setup ...
	// create a Stream and call bind_sockets").
	if !isPublisher && !refSess.IsSetup() {
		return errorResponse(base.StatusNotFound)
	}

	if conn.Session == nil {
		conn.Session = h.newRTPSession(streamID, roleFor(isPublisher))
	}

	if isPublisher {
		if !refSess.IsSetup() {
			params := reflector.SetupParams{
				LocalIP:        conn.LocalIP,
				SrcIP:          conn.RemoteIP,
				SrcPort:        conn.RemotePort,
				TCPInterleaved: transport.Protocol == headers.ProtocolTCP,
			}
			if err := refSess.Setup(sdpText, params); err != nil {
				return errorResponse(base.StatusInternalServerError)
			}
		}
	} else if conn.Session.Subscriber == nil {
		conn.Session.Subscriber = reflector.NewSubscriberOutput(
			conn.Session.ID, len(refSess.Streams()), nil,
			h.Config.DefaultBufferDelay(), h.Config.MaxSendAhead(),
		)
		refSess.AddOutput(conn.Session.Subscriber)
	}

	conn.Session.Reflector = refSess

	streams := refSess.Streams()
	if trackIndex < 0 || trackIndex >= len(streams) {
		return errorResponse(base.StatusBadRequest)
	}
	stream := streams[trackIndex]

	out := *transport

	if transport.Protocol == headers.ProtocolTCP {
		// Channel pairs are server-authoritative (spec.md §4.8: "each
		// RTSP session owns a counter starting at 0, incremented by 2
		// per SETUP") — a client-proposed interleaved= is never honored.
		rtpCh, rtcpCh := conn.Session.NextChannelPair()
		out.InterleavedIDs = &[2]int{rtpCh, rtcpCh}
		if conn.Session.Subscriber != nil {
			conn.Session.Subscriber.SetChannels(trackIndex, rtpCh, rtcpCh)
		}
	} else if stream.Pair != nil {
		out.ServerPorts = &[2]int{stream.Pair.RTPPort(), stream.Pair.RTCPPort()}
		if conn.Session.Subscriber != nil {
			// channel 0/1 are the udpOutputWriter RTP/RTCP sentinels.
			conn.Session.Subscriber.SetChannels(trackIndex, 0, 1)
		}
	}

	res := okResponse()
	res.Header.Set("Transport", out.Write())
	return res
}

// trackIndexFromURL extracts the zero-based track index from a SETUP
// URL's trailing "trackID=N" segment, defaulting to 0 when absent.
func trackIndexFromURL(url string) int {
	const marker = "trackid="
	lower := strings.ToLower(url)
	i := strings.LastIndex(lower, marker)
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.Trim(lower[i+len(marker):], "/"))
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

func roleFor(isPublisher bool) Role {
	if isPublisher {
		return RolePublisher
	}
	return RoleSubscriber
}

func (h *Handler) newRTPSession(streamID string, role Role) *Session {
	var id string
	for {
		id = uuid.NewString()
		if !h.RTP.Has(id) {
			break
		}
	}

	sess := NewSession(id, streamID, role, h.Config.RTSPTimeout())
	h.RTP.Set(id, sess)
	return sess
}

// sessionHeaderMismatch reports whether req carries a Session header
// that names a different session than the one already bound to this
// connection — a client error distinct from "no session at all".
func sessionHeaderMismatch(conn *ConnContext, req *base.Request) bool {
	v := req.Header.Get("Session")
	if v == "" || conn.Session == nil {
		return false
	}
	sess, err := headers.ReadSession(v)
	if err != nil {
		return false
	}
	return sess.ID != conn.Session.ID
}

// handleRecord transitions the publisher into the ingest state,
// spec.md §4.8.
func (h *Handler) handleRecord(conn *ConnContext, req *base.Request) *base.Response {
	if conn.Session == nil || conn.Session.Reflector == nil {
		return errorResponse(base.StatusNotFound)
	}
	if sessionHeaderMismatch(conn, req) {
		return errorResponse(base.StatusSessionNotFound)
	}

	if err := conn.Session.Record(context.Background()); err != nil {
		return errorResponse(base.StatusPreconditionFailed)
	}

	res := okResponse()
	res.Header.Set("RTP-Info", buildRTPInfo(req.URL, conn.Session.Reflector))
	return res
}

// handlePlay transitions a subscriber to playing, spec.md §4.8.
func (h *Handler) handlePlay(conn *ConnContext, req *base.Request) *base.Response {
	if conn.Session == nil || conn.Session.Reflector == nil {
		return errorResponse(base.StatusNotFound)
	}
	if sessionHeaderMismatch(conn, req) {
		return errorResponse(base.StatusSessionNotFound)
	}

	if err := conn.Session.Play(context.Background()); err != nil {
		return errorResponse(base.StatusPreconditionFailed)
	}

	res := okResponse()
	res.Header.Set("RTP-Info", buildRTPInfo(req.URL, conn.Session.Reflector))
	return res
}

// handleTeardown releases all resources attached to the identified
// session, spec.md §4.8.
func (h *Handler) handleTeardown(conn *ConnContext, req *base.Request) *base.Response {
	if conn.Session == nil {
		return okResponse()
	}
	if sessionHeaderMismatch(conn, req) {
		return errorResponse(base.StatusSessionNotFound)
	}

	_ = conn.Session.TearDown(context.Background())

	if conn.Session.Reflector != nil {
		if conn.Session.Role == RolePublisher {
			conn.Session.Reflector.TearDownAllOutputs()
			conn.Session.Reflector.Close()
			h.Sessions.Remove(conn.Session.StreamID)
			h.SDP.Erase(conn.Session.StreamID)
		} else if conn.Session.Subscriber != nil {
			conn.Session.Reflector.RemoveOutput(conn.Session.Subscriber)
		}
	}

	h.RTP.Remove(conn.Session.ID)
	conn.Session = nil

	return okResponse()
}

func buildRTPInfo(url string, refSess *reflector.ReflectorSession) string {
	var entries headers.RTPInfo
	for range refSess.Streams() {
		entries = append(entries, &headers.RTPInfoEntry{URL: url})
	}
	return entries.Write()
}

func okResponse() *base.Response {
	return &base.Response{StatusCode: base.StatusOK, Header: base.Header{}}
}

func errorResponse(code base.StatusCode) *base.Response {
	return &base.Response{StatusCode: code, Header: base.Header{}}
}

// PushInterleavedFrame routes a TCP-interleaved data frame to the
// matching Stream's push_packet, spec.md §4.8: "the two channels of
// each SETUP map to RTP and RTCP of the same direction."
func (h *Handler) PushInterleavedFrame(conn *ConnContext, channel int, payload []byte) error {
	if conn.Session == nil || conn.Session.Reflector == nil {
		return fmt.Errorf("interleaved frame on channel %d with no bound session", channel)
	}

	streamIdx, isRTCP := channel/2, channel%2 == 1
	streams := conn.Session.Reflector.Streams()
	if streamIdx < 0 || streamIdx >= len(streams) {
		return fmt.Errorf("interleaved frame on unknown channel %d", channel)
	}

	streams[streamIdx].PushPacket(payload, isRTCP)
	conn.Session.Touch()
	return nil
}

// BindSubscriberWriter attaches the connection-backed PacketWriter to a
// newly created subscriber, once the transport (TCP-interleaved channels
// or a UDP socket pair) is known. Called by the connection loop once a
// subscriber SETUP has produced a 200 response, before that response is
// written.
func (h *Handler) BindSubscriberWriter(conn *ConnContext, writer reflector.PacketWriter) {
	if conn.Session != nil && conn.Session.Subscriber != nil {
		conn.Session.Subscriber.SetWriter(writer)
	}
}

// Tick runs one scheduler pass across every registered ReflectorSession,
// per the "I/O workers" pool described in spec.md §5.
func (h *Handler) Tick(now time.Time) {
	h.Sessions.mu.Lock()
	sessions := make([]*reflector.ReflectorSession, 0, len(h.Sessions.items))
	for _, rs := range h.Sessions.items {
		sessions = append(sessions, rs)
	}
	h.Sessions.mu.Unlock()

	for _, rs := range sessions {
		rs.Tick(now)
	}
}

// ReapExpired tears down any RTP session idle past its timeout,
// spec.md §5.
func (h *Handler) ReapExpired(now time.Time) {
	h.RTP.mu.Lock()
	expired := make([]*Session, 0)
	for _, sess := range h.RTP.items {
		if sess.Expired(now) {
			expired = append(expired, sess)
		}
	}
	h.RTP.mu.Unlock()

	for _, sess := range expired {
		if refSess, ok := h.Sessions.Get(sess.StreamID); ok {
			if sess.Role == RolePublisher {
				refSess.TearDownAllOutputs()
				refSess.Close()
				h.Sessions.Remove(sess.StreamID)
				h.SDP.Erase(sess.StreamID)
			} else if sess.Subscriber != nil {
				refSess.RemoveOutput(sess.Subscriber)
			}
		}
		h.RTP.Remove(sess.ID)
	}
}
