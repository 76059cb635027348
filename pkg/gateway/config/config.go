// Package config loads gateway configuration from the environment and
// validates it before the process starts serving.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemPrompt is the receptionist persona used when neither
// the prompt store nor the environment override it.
const DefaultSystemPrompt = "You are Saad, a professional and friendly male receptionist at TechCorp Solutions. " +
	"You greet visitors warmly, answer questions about the company, schedule appointments, " +
	"and direct calls appropriately. Always be polite, professional, and helpful. " +
	"Keep responses concise and welcoming, like a real receptionist would speak. " +
	"When the conversation starts, immediately introduce yourself by saying: " +
	"'Hi! I'm Saad, the receptionist at TechCorp Solutions. How can I help you today?'"

type Config struct {
	Addr string

	// Speech model session parameters.
	Region       string
	ModelID      string
	SystemPrompt string

	// Optional static page served at /. Empty falls back to the
	// built-in test console.
	IndexPath string

	// Postgres URL for the prompt store. Empty keeps the prompt in
	// process memory.
	DatabaseURL string

	// CORS and the /ws origin check. Same-host origins are always
	// accepted; cross-origin browsers need their origin listed in
	// SONICGATE_CORS_ORIGINS. Empty disables cross-origin access.
	CORSAllowedOrigins map[string]struct{}

	// Live WebSocket mode (/ws).
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration
	LiveHandshakeTimeout    time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("SONICGATE_ADDR", ":8080"),
		Region:                  envOr("AWS_REGION", envOr("AWS_DEFAULT_REGION", "us-east-1")),
		ModelID:                 envOr("SONICGATE_MODEL_ID", "amazon.nova-sonic-v1:0"),
		SystemPrompt:            envOr("SONICGATE_SYSTEM_PROMPT", DefaultSystemPrompt),
		IndexPath:               envOr("SONICGATE_INDEX_PATH", ""),
		DatabaseURL:             envOr("SONICGATE_DATABASE_URL", ""),
		CORSAllowedOrigins:      make(map[string]struct{}),
		LiveMaxJSONMessageBytes: envInt64Or("SONICGATE_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:      envDurationOr("SONICGATE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("SONICGATE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:       envDurationOr("SONICGATE_LIVE_WS_READ_TIMEOUT", 0),
		LiveHandshakeTimeout:    envDurationOr("SONICGATE_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:       envDurationOr("SONICGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("SONICGATE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("SONICGATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("SONICGATE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("SONICGATE_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return Config{}, fmt.Errorf("AWS_REGION must not be empty")
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return Config{}, fmt.Errorf("SONICGATE_MODEL_ID must not be empty")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return Config{}, fmt.Errorf("SONICGATE_SYSTEM_PROMPT must not be empty")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("SONICGATE_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("SONICGATE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("SONICGATE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("SONICGATE_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("SONICGATE_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("SONICGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("SONICGATE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SONICGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
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
