package main

import (
	"errors"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtsp"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtsp/base"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtsp/headers"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtspsession"
)

// handleConnection drives one RTSP TCP connection end to end: it reads
// either a Request or an interleaved data frame (spec.md §4.8/§6) until
// the client disconnects.
func handleConnection(netConn net.Conn, handler *rtspsession.Handler, log *logrus.Logger) {
	defer netConn.Close()

	conn := rtsp.NewConn(netConn)

	ctx := &rtspsession.ConnContext{
		LocalIP: localIP(netConn),
	}
	if addr, ok := netConn.RemoteAddr().(*net.TCPAddr); ok {
		ctx.RemoteIP = addr.IP
		ctx.RemotePort = addr.Port
	}

	log = log.WithField("remote", netConn.RemoteAddr().String()).Logger

	for {
		item, err := conn.ReadInterleavedFrameOrRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Debug("rtsp connection closed")
			}
			return
		}

		switch v := item.(type) {
		case *base.Request:
			if ctx.Session != nil {
				ctx.Session.Touch()
			}

			res := handler.HandleRequest(ctx, v)
			bindWriterIfNeeded(conn, ctx, v, res, handler)

			if err := conn.WriteResponse(res); err != nil {
				log.WithError(err).Debug("failed to write rtsp response")
				return
			}

		case *base.InterleavedFrame:
			if err := handler.PushInterleavedFrame(ctx, v.Channel, v.Payload); err != nil {
				log.WithError(err).Trace("dropped interleaved frame")
			}
		}
	}
}

// bindWriterIfNeeded attaches the connection-backed PacketWriter to a
// freshly created subscriber right after its SETUP response succeeds,
// per spec.md §4.5's transport binding.
func bindWriterIfNeeded(conn *rtsp.Conn, ctx *rtspsession.ConnContext, req *base.Request, res *base.Response, handler *rtspsession.Handler) {
	if req.Method != base.Setup || res.StatusCode != base.StatusOK {
		return
	}
	if ctx.Session == nil || ctx.Session.Role != rtspsession.RoleSubscriber || ctx.Session.Subscriber == nil {
		return
	}

	transport, err := headers.ReadTransport(req.Header.Get("Transport"))
	if err != nil {
		return
	}

	if transport.Protocol == headers.ProtocolTCP {
		handler.BindSubscriberWriter(ctx, newTCPInterleavedWriter(conn))
		return
	}

	if transport.ClientPorts == nil || ctx.RemoteIP == nil {
		return
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ctx.LocalIP})
	if err != nil {
		return
	}

	rtpAddr := &net.UDPAddr{IP: ctx.RemoteIP, Port: transport.ClientPorts[0]}
	rtcpAddr := &net.UDPAddr{IP: ctx.RemoteIP, Port: transport.ClientPorts[1]}
	handler.BindSubscriberWriter(ctx, newUDPOutputWriter(udpConn, rtpAddr, rtcpAddr))
}

func localIP(conn net.Conn) net.IP {
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}
