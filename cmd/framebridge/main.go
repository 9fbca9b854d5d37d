package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/pion/logging"

	"framebridge/native/internal/api"
	"framebridge/native/internal/config"
	"framebridge/native/internal/domain"
	"framebridge/native/internal/logx"
	"framebridge/native/internal/media"
	"framebridge/native/internal/relay"
	"framebridge/native/internal/session"
	sigclient "framebridge/native/internal/signal"
	"framebridge/native/internal/webrtc"
)

const helpText = `framebridge - Receive a WebRTC camera stream and relay it as JPEG frames

Usage:
  framebridge [options]

framebridge connects to the signaling server as a viewer, answers the
camera's offer, decodes the H264 video with ffmpeg and forwards every frame
as a timestamped JPEG on the frame channel.

Environment Variables (all optional, also read from .env):
  BRIDGE_SIGNALING_URL        Signaling endpoint (default ws://localhost:8080/viewer)
  BRIDGE_FRAME_URL            Frame output endpoint (default ws://localhost:8080/camera)
  BRIDGE_STATUS_URL           Server status endpoint checked at startup
  BRIDGE_STUN_SERVERS         Comma-separated STUN URLs
  BRIDGE_JPEG_QUALITY         JPEG quality 1-100 (default 85)
  BRIDGE_FILTER_IPV6          Drop IPv6 candidates (default true)
  BRIDGE_FFMPEG               Path to ffmpeg (default ffmpeg)
  BRIDGE_DEBUG                Verbose logging (default false)
  BRIDGE_SIGNAL_PING_SECONDS  Signaling keep-alive period (default 20)

Examples:
  # Local server with debug output
  BRIDGE_DEBUG=true framebridge

  # Remote server with status check
  BRIDGE_SIGNALING_URL=wss://cam.example.org/viewer \
  BRIDGE_FRAME_URL=wss://cam.example.org/camera \
  BRIDGE_STATUS_URL=https://cam.example.org/status framebridge

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[main] %v\n", err)
		os.Exit(2)
	}

	level := logging.LogLevelInfo
	if cfg.Debug {
		level = logging.LogLevelDebug
	}
	lf := logx.NewFactory(os.Stderr, level)
	log := lf.NewLogger("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		cancel()
	}()

	s := session.New(newDeps(cfg, lf))
	log.Infof("session %s", s.ID())

	report, err := s.Run(ctx)
	session.PrintReport(os.Stderr, report)
	if err != nil {
		log.Errorf("session ended: %v", err)
		os.Exit(1)
	}
	log.Info("done")
}

func newDeps(cfg *config.Config, lf logging.LoggerFactory) session.Deps {
	deps := session.Deps{
		DialFrames: func(ctx context.Context) (domain.FrameSink, error) {
			return relay.DialSink(ctx, cfg.FrameURL, lf)
		},
		DialSignaling: func(ctx context.Context) (session.Signaling, error) {
			return sigclient.Dial(ctx, cfg.SignalingURL, cfg.SignalPingEvery, lf)
		},
		NewTransport: func() (session.Transport, error) {
			return webrtc.NewPeer(webrtc.Options{
				STUNServers: cfg.STUNServers,
				NewDecoder: func(ctx context.Context) (webrtc.Decoder, error) {
					return media.StartFFmpeg(ctx, cfg.FFmpegPath, lf)
				},
				LoggerFactory: lf,
			})
		},
		FilterIPv6:    cfg.FilterIPv6,
		JPEGQuality:   cfg.JPEGQuality,
		LoggerFactory: lf,
	}
	if cfg.StatusURL != "" {
		deps.Status = api.NewClient(cfg.StatusURL)
	}
	return deps
}
