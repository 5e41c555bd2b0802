package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable LoadFromEnv reads so host state never
// leaks into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SWITCHBOARD_ADDR",
		"OPENAI_API_KEY",
		"SWITCHBOARD_REALTIME_BASE_URL",
		"SWITCHBOARD_AGENTS_FILE",
		"SWITCHBOARD_STATIC_DIR",
		"SWITCHBOARD_CORS_ORIGINS",
		"SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES",
		"SWITCHBOARD_LIVE_WS_WRITE_TIMEOUT",
		"SWITCHBOARD_LIVE_WS_PING_INTERVAL",
		"SWITCHBOARD_UPSTREAM_WRITE_TIMEOUT",
		"SWITCHBOARD_READ_HEADER_TIMEOUT",
		"SWITCHBOARD_READ_TIMEOUT",
		"SWITCHBOARD_SHUTDOWN_GRACE_PERIOD",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("OpenAIAPIKey = %q", cfg.OpenAIAPIKey)
	}
	if cfg.RealtimeBaseURL != "wss://api.openai.com/v1/realtime" {
		t.Fatalf("RealtimeBaseURL = %q", cfg.RealtimeBaseURL)
	}
	if cfg.AgentsFile != "agents.yaml" {
		t.Fatalf("AgentsFile = %q", cfg.AgentsFile)
	}
	if cfg.StaticDir != "" {
		t.Fatalf("StaticDir = %q", cfg.StaticDir)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.LiveMaxMessageBytes != 1<<20 {
		t.Fatalf("LiveMaxMessageBytes = %d", cfg.LiveMaxMessageBytes)
	}
	if cfg.LiveWSWriteTimeout != 5*time.Second {
		t.Fatalf("LiveWSWriteTimeout = %v", cfg.LiveWSWriteTimeout)
	}
	if cfg.LiveWSPingInterval != 20*time.Second {
		t.Fatalf("LiveWSPingInterval = %v", cfg.LiveWSPingInterval)
	}
	if cfg.UpstreamWriteTimeout != 10*time.Second {
		t.Fatalf("UpstreamWriteTimeout = %v", cfg.UpstreamWriteTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SWITCHBOARD_ADDR", "127.0.0.1:9090")
	t.Setenv("SWITCHBOARD_REALTIME_BASE_URL", "ws://localhost:4000/realtime")
	t.Setenv("SWITCHBOARD_AGENTS_FILE", "deploy/agents.yaml")
	t.Setenv("SWITCHBOARD_STATIC_DIR", "./static")
	t.Setenv("SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES", "65536")
	t.Setenv("SWITCHBOARD_UPSTREAM_WRITE_TIMEOUT", "2s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != "127.0.0.1:9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.RealtimeBaseURL != "ws://localhost:4000/realtime" {
		t.Fatalf("RealtimeBaseURL = %q", cfg.RealtimeBaseURL)
	}
	if cfg.AgentsFile != "deploy/agents.yaml" {
		t.Fatalf("AgentsFile = %q", cfg.AgentsFile)
	}
	if cfg.StaticDir != "./static" {
		t.Fatalf("StaticDir = %q", cfg.StaticDir)
	}
	if cfg.LiveMaxMessageBytes != 65536 {
		t.Fatalf("LiveMaxMessageBytes = %d", cfg.LiveMaxMessageBytes)
	}
	if cfg.UpstreamWriteTimeout != 2*time.Second {
		t.Fatalf("UpstreamWriteTimeout = %v", cfg.UpstreamWriteTimeout)
	}
}

func TestLoadFromEnvRequiresAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("LoadFromEnv() accepted a missing OPENAI_API_KEY")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("error %q does not name the variable", err)
	}
}

func TestLoadFromEnvValidation(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"zero message bytes", "SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES", "0", "SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES"},
		{"negative message bytes", "SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES", "-1", "SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES"},
		{"zero ws write timeout", "SWITCHBOARD_LIVE_WS_WRITE_TIMEOUT", "0s", "SWITCHBOARD_LIVE_WS_WRITE_TIMEOUT"},
		{"zero ping interval", "SWITCHBOARD_LIVE_WS_PING_INTERVAL", "0s", "SWITCHBOARD_LIVE_WS_PING_INTERVAL"},
		{"zero upstream write timeout", "SWITCHBOARD_UPSTREAM_WRITE_TIMEOUT", "0s", "SWITCHBOARD_UPSTREAM_WRITE_TIMEOUT"},
		{"zero shutdown grace", "SWITCHBOARD_SHUTDOWN_GRACE_PERIOD", "0s", "SWITCHBOARD_SHUTDOWN_GRACE_PERIOD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("OPENAI_API_KEY", "sk-test")
			t.Setenv(tc.key, tc.val)

			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("LoadFromEnv() accepted invalid value")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not name %s", err, tc.want)
			}
		})
	}
}

func TestLoadFromEnvCORSOrigins(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SWITCHBOARD_CORS_ORIGINS", " https://app.example.com , https://staging.example.com ,, ")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	for _, origin := range []string{"https://app.example.com", "https://staging.example.com"} {
		if _, ok := cfg.CORSAllowedOrigins[origin]; !ok {
			t.Fatalf("origin %q missing", origin)
		}
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SWITCHBOARD_LIVE_MAX_MESSAGE_BYTES", "not-a-number")
	t.Setenv("SWITCHBOARD_READ_TIMEOUT", "not-a-duration")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.LiveMaxMessageBytes != 1<<20 {
		t.Fatalf("LiveMaxMessageBytes = %d, want default", cfg.LiveMaxMessageBytes)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("ReadTimeout = %v, want default", cfg.ReadTimeout)
	}
}
