package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Upstream realtime API.
	OpenAIAPIKey    string
	RealtimeBaseURL string

	// Agent roster definition file.
	AgentsFile string

	// Static assets for the demo client; empty disables the file server.
	StaticDir string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Live WebSocket mode (/v1/live).
	LiveMaxMessageBytes int64
	LiveWSWriteTimeout  time.Duration
	LiveWSPingInterval  time.Duration

	// Upstream realtime connection defaults.
	UpstreamWriteTimeout time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("SWITCHBOARD_ADDR", ":8080"),
		OpenAIAPIKey:         strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		RealtimeBaseURL:      envOr("SWITCHBOARD_REALTIME_BASE_URL", "wss://api.openai.com/v1/realtime"),
		AgentsFile:           envOr("SWITCHBOARD_AGENTS_FILE", "agents.yaml"),
		StaticDir:            envOr("SWITCHBOARD_STATIC_DIR", ""),
		CORSAllowedOrigins:   make(map[string]struct{}),
		LiveMaxMessageBytes:  envInt64Or("SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES", 1<<20), // 1 MiB
		LiveWSWriteTimeout:   envDurationOr("SWITCHBOARD_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSPingInterval:   envDurationOr("SWITCHBOARD_LIVE_WS_PING_INTERVAL", 20*time.Second),
		UpstreamWriteTimeout: envDurationOr("SWITCHBOARD_UPSTREAM_WRITE_TIMEOUT", 10*time.Second),
		ReadHeaderTimeout:    envDurationOr("SWITCHBOARD_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:          envDurationOr("SWITCHBOARD_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:  envDurationOr("SWITCHBOARD_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("SWITCHBOARD_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.RealtimeBaseURL) == "" {
		return Config{}, fmt.Errorf("SWITCHBOARD_REALTIME_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.AgentsFile) == "" {
		return Config{}, fmt.Errorf("SWITCHBOARD_AGENTS_FILE must not be empty")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("SWITCHBOARD_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("SWITCHBOARD_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.UpstreamWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("SWITCHBOARD_UPSTREAM_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("SWITCHBOARD_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("SWITCHBOARD_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SWITCHBOARD_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
