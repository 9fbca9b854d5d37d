package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultSignalingURL = "ws://localhost:8080/viewer"
	DefaultFrameURL     = "ws://localhost:8080/camera"
	DefaultJPEGQuality  = 85
	DefaultFFmpeg       = "ffmpeg"
	DefaultSignalPing   = 20 * time.Second
)

// DefaultSTUNServers is used when BRIDGE_STUN_SERVERS is unset.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// Config holds the application configuration.
type Config struct {
	SignalingURL    string
	FrameURL        string
	StatusURL       string // empty disables the status preflight
	STUNServers     []string
	JPEGQuality     int
	FilterIPv6      bool
	FFmpegPath      string
	Debug           bool
	SignalPingEvery time.Duration
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function, applying defaults
// for unset keys.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		SignalingURL:    DefaultSignalingURL,
		FrameURL:        DefaultFrameURL,
		STUNServers:     DefaultSTUNServers,
		JPEGQuality:     DefaultJPEGQuality,
		FilterIPv6:      true,
		FFmpegPath:      DefaultFFmpeg,
		SignalPingEvery: DefaultSignalPing,
	}

	if v := getenv("BRIDGE_SIGNALING_URL"); v != "" {
		cfg.SignalingURL = v
	}
	if err := checkURL("BRIDGE_SIGNALING_URL", cfg.SignalingURL, "ws", "wss"); err != nil {
		return nil, err
	}

	if v := getenv("BRIDGE_FRAME_URL"); v != "" {
		cfg.FrameURL = v
	}
	if err := checkURL("BRIDGE_FRAME_URL", cfg.FrameURL, "ws", "wss"); err != nil {
		return nil, err
	}

	if v := getenv("BRIDGE_STATUS_URL"); v != "" {
		if err := checkURL("BRIDGE_STATUS_URL", v, "http", "https"); err != nil {
			return nil, err
		}
		cfg.StatusURL = v
	}

	if v := getenv("BRIDGE_STUN_SERVERS"); v != "" {
		var servers []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		cfg.STUNServers = servers
	}

	if v := getenv("BRIDGE_JPEG_QUALITY"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 1 || q > 100 {
			return nil, fmt.Errorf("BRIDGE_JPEG_QUALITY must be 1-100, got %q", v)
		}
		cfg.JPEGQuality = q
	}

	if v := getenv("BRIDGE_FILTER_IPV6"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("BRIDGE_FILTER_IPV6: %w", err)
		}
		cfg.FilterIPv6 = b
	}

	if v := getenv("BRIDGE_FFMPEG"); v != "" {
		cfg.FFmpegPath = v
	}

	if v := getenv("BRIDGE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("BRIDGE_DEBUG: %w", err)
		}
		cfg.Debug = b
	}

	if v := getenv("BRIDGE_SIGNAL_PING_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("BRIDGE_SIGNAL_PING_SECONDS must be a positive integer, got %q", v)
		}
		cfg.SignalPingEvery = time.Duration(n) * time.Second
	}

	return cfg, nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", key, strings.Join(schemes, "/"), raw)
}
