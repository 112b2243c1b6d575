package config

import (
	"testing"
	"time"
)

// allEnvVars lists every variable Load reads, cleared between tests.
var allEnvVars = []string{
	"LIVESITE_DATABASE_URL", "LIVESITE_GRPC_ADDR", "LIVESITE_HTTP_ADDR", "LIVESITE_NATS_URL",
	"LIVESITE_AUTH_TOKEN", "LIVESITE_HEARTBEAT_TIMEOUT", "LIVESITE_SWEEP_INTERVAL",
	"LIVESITE_SEND_BUFFER", "LIVESITE_ECHO_TO_ORIGIN", "LIVESITE_POLL_WINDOW",
	"LIVESITE_SYNC_INTERVAL", "LIVESITE_SYNC_S3_BUCKET", "LIVESITE_SYNC_S3_ENDPOINT",
	"LIVESITE_SYNC_S3_REGION", "LIVESITE_SYNC_S3_KEY", "LIVESITE_SYNC_GIT_REPO",
	"LIVESITE_SYNC_GIT_FILE", "LIVESITE_SYNC_GIT_BRANCH", "LIVESITE_ALLOWED_ORIGINS",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty (memory store)", cfg.DatabaseURL)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("addresses = %q, %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.HeartbeatTimeout != 90*time.Second || cfg.SweepInterval != 30*time.Second {
		t.Errorf("heartbeat = %v, sweep = %v", cfg.HeartbeatTimeout, cfg.SweepInterval)
	}
	if cfg.PollWindow != 60*time.Second {
		t.Errorf("PollWindow = %v, want 60s", cfg.PollWindow)
	}
	if cfg.SendBuffer != 256 || cfg.EchoToOrigin {
		t.Errorf("SendBuffer = %d, EchoToOrigin = %v", cfg.SendBuffer, cfg.EchoToOrigin)
	}
	if cfg.SyncInterval != 5*time.Minute || cfg.SyncS3Key != "livesite/content.jsonl" || cfg.SyncGitBranch != "main" {
		t.Errorf("sync defaults wrong: %+v", cfg)
	}
	if !cfg.GRPCEnabled() {
		t.Error("GRPCEnabled() = false by default")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "CustomValues",
			env: map[string]string{
				"LIVESITE_DATABASE_URL":      "postgres://db:5432/livesite",
				"LIVESITE_HTTP_ADDR":         ":3000",
				"LIVESITE_NATS_URL":          "nats://localhost:4222",
				"LIVESITE_HEARTBEAT_TIMEOUT": "2m",
				"LIVESITE_SEND_BUFFER":       "32",
				"LIVESITE_ECHO_TO_ORIGIN":    "true",
			},
			check: func(t *testing.T, c *Config) {
				if c.HTTPAddr != ":3000" || c.NATSURL != "nats://localhost:4222" {
					t.Errorf("got %+v", c)
				}
				if c.HeartbeatTimeout != 2*time.Minute || c.SendBuffer != 32 || !c.EchoToOrigin {
					t.Errorf("got %+v", c)
				}
			},
		},
		{
			name: "GRPCOff",
			env:  map[string]string{"LIVESITE_GRPC_ADDR": "off"},
			check: func(t *testing.T, c *Config) {
				if c.GRPCEnabled() {
					t.Error("GRPCEnabled() = true with off")
				}
			},
		},
		{
			name: "SyncDisabled",
			env:  map[string]string{"LIVESITE_SYNC_INTERVAL": "0s"},
			check: func(t *testing.T, c *Config) {
				if c.SyncInterval != 0 {
					t.Errorf("SyncInterval = %v, want 0", c.SyncInterval)
				}
			},
		},
		{name: "BadDuration", env: map[string]string{"LIVESITE_POLL_WINDOW": "soon"}, wantErr: true},
		{name: "NegativeDuration", env: map[string]string{"LIVESITE_SYNC_INTERVAL": "-1m"}, wantErr: true},
		{name: "ZeroHeartbeat", env: map[string]string{"LIVESITE_HEARTBEAT_TIMEOUT": "0s"}, wantErr: true},
		{name: "BadBuffer", env: map[string]string{"LIVESITE_SEND_BUFFER": "0"}, wantErr: true},
		{name: "BadEcho", env: map[string]string{"LIVESITE_ECHO_TO_ORIGIN": "maybe"}, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("LIVESITE_ALLOWED_ORIGINS", "https://site.example, ,https://admin.site.example")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://site.example" || cfg.AllowedOrigins[1] != "https://admin.site.example" {
		t.Fatalf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
}
