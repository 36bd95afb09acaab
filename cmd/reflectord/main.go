// Command reflectord runs the RTSP reflector: it accepts publisher and
// subscriber RTSP connections, relays RTP/RTCP between them, and exposes
// the configuration surface documented in spec.md §6.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/config"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/logging"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/reflector"
	"github.com/HungMingWu/EasyDarwin-sub002/internal/rtspsession"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := logging.New(cfg.LogLevel)

	pool := reflector.NewSocketPairPool()
	handler := rtspsession.NewHandler(pool, cfg)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to listen")
	}
	log.WithField("addr", cfg.ListenAddr).Info("reflector listening")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go runScheduler(ctx, handler, cfg, log)
	go reapLoop(ctx, handler, log)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info("reflector shutting down")
				return
			default:
				log.WithError(err).Warn("accept failed")
				continue
			}
		}

		go handleConnection(netConn, handler, log)
	}
}

// runScheduler drives the packet-reflection tick across every
// ReflectorSession, matching the I/O worker loop described in
// spec.md §5. The tick period is send_interval_ms (20ms when that is not
// positive); the Senders' own pacers are left unlimited, so this tick is
// what spaces reflect cycles.
func runScheduler(ctx context.Context, handler *rtspsession.Handler, cfg config.Config, log *logrus.Logger) {
	interval := cfg.SendInterval()
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			handler.Tick(now)
		}
	}
}

// reapLoop tears down RTSP/RTP sessions that have been idle past their
// configured timeout, per spec.md §5.
func reapLoop(ctx context.Context, handler *rtspsession.Handler, log *logrus.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			handler.ReapExpired(now)
		}
	}
}
