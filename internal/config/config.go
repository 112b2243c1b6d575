package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // LIVESITE_DATABASE_URL (optional, empty = in-memory store)
	GRPCAddr    string // LIVESITE_GRPC_ADDR (default ":9090"; "off" disables)
	HTTPAddr    string // LIVESITE_HTTP_ADDR (default ":8080")
	NATSURL     string // LIVESITE_NATS_URL (optional, empty = single replica)
	AuthToken   string // LIVESITE_AUTH_TOKEN (optional, empty = admin auth disabled)

	AllowedOrigins []string // LIVESITE_ALLOWED_ORIGINS (comma-separated; empty = any origin)

	// Push channel settings
	HeartbeatTimeout time.Duration // LIVESITE_HEARTBEAT_TIMEOUT (default 90s)
	SweepInterval    time.Duration // LIVESITE_SWEEP_INTERVAL (default 30s)
	SendBuffer       int           // LIVESITE_SEND_BUFFER (default 256)
	EchoToOrigin     bool          // LIVESITE_ECHO_TO_ORIGIN (default false)
	PollWindow       time.Duration // LIVESITE_POLL_WINDOW (default 60s)

	// Export settings
	SyncInterval   time.Duration // LIVESITE_SYNC_INTERVAL (default 5m; 0 = disabled)
	SyncS3Bucket   string        // LIVESITE_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // LIVESITE_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // LIVESITE_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // LIVESITE_SYNC_S3_KEY (default "livesite/content.jsonl")
	SyncGitRepo    string        // LIVESITE_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // LIVESITE_SYNC_GIT_FILE (default "content.jsonl")
	SyncGitBranch  string        // LIVESITE_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:    os.Getenv("LIVESITE_DATABASE_URL"),
		GRPCAddr:       envOrDefault("LIVESITE_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("LIVESITE_HTTP_ADDR", ":8080"),
		NATSURL:        os.Getenv("LIVESITE_NATS_URL"),
		AuthToken:      os.Getenv("LIVESITE_AUTH_TOKEN"),
		SyncS3Bucket:   os.Getenv("LIVESITE_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("LIVESITE_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("LIVESITE_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      envOrDefault("LIVESITE_SYNC_S3_KEY", "livesite/content.jsonl"),
		SyncGitRepo:    os.Getenv("LIVESITE_SYNC_GIT_REPO"),
		SyncGitFile:    envOrDefault("LIVESITE_SYNC_GIT_FILE", "content.jsonl"),
		SyncGitBranch:  envOrDefault("LIVESITE_SYNC_GIT_BRANCH", "main"),
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"LIVESITE_HEARTBEAT_TIMEOUT", "90s", &c.HeartbeatTimeout},
		{"LIVESITE_SWEEP_INTERVAL", "30s", &c.SweepInterval},
		{"LIVESITE_POLL_WINDOW", "60s", &c.PollWindow},
		{"LIVESITE_SYNC_INTERVAL", "5m", &c.SyncInterval},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}
	if c.HeartbeatTimeout == 0 || c.SweepInterval == 0 {
		return nil, fmt.Errorf("LIVESITE_HEARTBEAT_TIMEOUT and LIVESITE_SWEEP_INTERVAL must be positive")
	}

	buf, err := strconv.Atoi(envOrDefault("LIVESITE_SEND_BUFFER", "256"))
	if err != nil || buf < 1 {
		return nil, fmt.Errorf("LIVESITE_SEND_BUFFER: want a positive integer, got %q", os.Getenv("LIVESITE_SEND_BUFFER"))
	}
	c.SendBuffer = buf

	if v := os.Getenv("LIVESITE_ECHO_TO_ORIGIN"); v != "" {
		echo, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("LIVESITE_ECHO_TO_ORIGIN: %w", err)
		}
		c.EchoToOrigin = echo
	}

	for _, o := range strings.Split(os.Getenv("LIVESITE_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}

	return c, nil
}

// GRPCEnabled reports whether the gRPC health listener should start.
func (c *Config) GRPCEnabled() bool {
	return c.GRPCAddr != "" && c.GRPCAddr != "off"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
