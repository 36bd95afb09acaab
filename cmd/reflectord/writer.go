package main

import (
	"net"
	"time"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtsp"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtsp/base"
)

// writeQueueLen bounds each subscriber's outbound queue; a full queue
// is this package's "would block", per the write_packet contract in
// spec.md §4.7.
const writeQueueLen = 256

// waitUntil blocks until t, the transmit_time a SubscriberOutput
// computed for the queued packet (spec.md §4.7), or returns
// immediately if it has already passed.
func waitUntil(t time.Time) {
	if d := time.Until(t); d > 0 {
		time.Sleep(d)
	}
}

type queuedFrame struct {
	channel    int
	payload    []byte
	transmitAt time.Time
}

// tcpInterleavedWriter implements reflector.PacketWriter over a shared
// RTSP TCP connection, draining a bounded queue on its own goroutine so
// a slow client stalls only its own subscriber, not the reflect cycle —
// grounded on the buffered writer-goroutine pattern used throughout the
// teacher's server-side stream writers.
type tcpInterleavedWriter struct {
	conn  *rtsp.Conn
	queue chan queuedFrame
}

func newTCPInterleavedWriter(conn *rtsp.Conn) *tcpInterleavedWriter {
	w := &tcpInterleavedWriter{conn: conn, queue: make(chan queuedFrame, writeQueueLen)}
	go w.run()
	return w
}

func (w *tcpInterleavedWriter) run() {
	buf := make([]byte, 1500)
	for qf := range w.queue {
		waitUntil(qf.transmitAt)
		fr := &base.InterleavedFrame{Channel: qf.channel, Payload: qf.payload}
		if n := fr.MarshalSize(); n > len(buf) {
			buf = make([]byte, n)
		}
		_ = w.conn.WriteInterleavedFrame(fr, buf)
	}
}

func (w *tcpInterleavedWriter) WriteBurstBegin() {}

func (w *tcpInterleavedWriter) WritePacket(ch int, payload []byte, transmitAt time.Time) (blocked bool) {
	select {
	case w.queue <- queuedFrame{channel: ch, payload: payload, transmitAt: transmitAt}:
		return false
	default:
		return true
	}
}

// udpOutputWriter implements reflector.PacketWriter over a subscriber's
// UDP client ports: channel 0 routes to the RTP address, any other
// value to the RTCP address.
type udpOutputWriter struct {
	conn     *net.UDPConn
	rtpAddr  *net.UDPAddr
	rtcpAddr *net.UDPAddr
	queue    chan udpFrame
}

type udpFrame struct {
	addr       *net.UDPAddr
	payload    []byte
	transmitAt time.Time
}

func newUDPOutputWriter(conn *net.UDPConn, rtpAddr, rtcpAddr *net.UDPAddr) *udpOutputWriter {
	w := &udpOutputWriter{conn: conn, rtpAddr: rtpAddr, rtcpAddr: rtcpAddr, queue: make(chan udpFrame, writeQueueLen)}
	go w.run()
	return w
}

func (w *udpOutputWriter) run() {
	for f := range w.queue {
		waitUntil(f.transmitAt)
		_, _ = w.conn.WriteToUDP(f.payload, f.addr)
	}
}

func (w *udpOutputWriter) WriteBurstBegin() {}

func (w *udpOutputWriter) WritePacket(ch int, payload []byte, transmitAt time.Time) (blocked bool) {
	addr := w.rtpAddr
	if ch != 0 {
		addr = w.rtcpAddr
	}

	select {
	case w.queue <- udpFrame{addr: addr, payload: payload, transmitAt: transmitAt}:
		return false
	default:
		return true
	}
}
