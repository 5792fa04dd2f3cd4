package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Redis deployment modes accepted in REDIS_MODE.
const (
	RedisModeStandalone = "standalone"
	RedisModeSentinel   = "sentinel"
)

// Config holds application configuration populated from environment variables.
type Config struct {
	// Core
	Port int
	Env  string // "development" or "production"

	// Token verification
	JWTSecret    string
	CookieSecret string // falls back to JWTSecret when unset

	// Redis
	RedisMode         string
	RedisHost         string
	RedisPort         int
	RedisPassword     string
	RedisSentinelHost string
	RedisSentinelPort int
	RedisSentinelName string

	// HTTP
	CORSOrigins  []string
	WebhookToken string

	// Web Push
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	// Telegram relay
	TelegramBotToken string
	TelegramChatID   string

	// Gateway tunables
	AuthGrace      time.Duration
	SweepInterval  time.Duration
	PingInterval   time.Duration
	PingTimeout    time.Duration
	ConnectTimeout time.Duration
	MaxFrameBytes  int64

	// Notification inbox
	InboxMax int
	InboxTTL time.Duration

	// Push subscriptions
	MaxDevices int
}

// Load reads configuration from environment variables. It returns an error if any variable is set but cannot be
// parsed, or if required security values are missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port: p.int("PORT", 3000),
		Env:  envStr("NODE_ENV", "development"),

		JWTSecret:    envStr("JWT_SECRET", ""),
		CookieSecret: envStr("COOKIE_SECRET", ""),

		RedisMode:         envStr("REDIS_MODE", RedisModeStandalone),
		RedisHost:         envStr("REDIS_HOST", "localhost"),
		RedisPort:         p.int("REDIS_PORT", 6379),
		RedisPassword:     envStr("REDIS_PASSWORD", ""),
		RedisSentinelHost: envStr("REDIS_SENTINEL_HOST", ""),
		RedisSentinelPort: p.int("REDIS_SENTINEL_PORT", 26379),
		RedisSentinelName: envStr("REDIS_SENTINEL_NAME", "mymaster"),

		CORSOrigins:  splitList(envStr("CORS_ORIGIN", "")),
		WebhookToken: envStr("WEBHOOK_TOKEN", ""),

		VAPIDPublicKey:  envStr("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: envStr("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    envStr("VAPID_SUBJECT", ""),

		TelegramBotToken: envStr("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   envStr("TELEGRAM_CHAT_ID", ""),

		AuthGrace:      p.duration("AUTH_GRACE", 10*time.Second),
		SweepInterval:  p.duration("SWEEP_INTERVAL", 5*time.Minute),
		PingInterval:   p.duration("PING_INTERVAL", 25*time.Second),
		PingTimeout:    p.duration("PING_TIMEOUT", 60*time.Second),
		ConnectTimeout: p.duration("CONNECT_TIMEOUT", 45*time.Second),
		MaxFrameBytes:  int64(p.int("MAX_FRAME_BYTES", 1<<20)),

		InboxMax: p.int("INBOX_MAX", 50),
		InboxTTL: p.duration("INBOX_TTL", 24*time.Hour),

		MaxDevices: p.int("MAX_DEVICES", 5),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if cfg.CookieSecret == "" {
		cfg.CookieSecret = cfg.JWTSecret
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RedisAddr returns the standalone Redis address in host:port form.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// SentinelAddr returns the Sentinel address in host:port form.
func (c *Config) SentinelAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisSentinelHost, c.RedisSentinelPort)
}

// PushConfigured returns true when a VAPID key pair is set, indicating that Web Push delivery is available.
func (c *Config) PushConfigured() bool {
	return c.VAPIDPrivateKey != "" && c.VAPIDPublicKey != ""
}

// TelegramConfigured returns true when the Telegram relay credentials are set.
func (c *Config) TelegramConfigured() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func (c *Config) validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 characters"))
	}

	if c.WebhookToken == "" {
		errs = append(errs, fmt.Errorf("WEBHOOK_TOKEN is required"))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535"))
	}

	switch c.RedisMode {
	case RedisModeStandalone:
	case RedisModeSentinel:
		if c.RedisSentinelHost == "" {
			errs = append(errs, fmt.Errorf("REDIS_SENTINEL_HOST is required when REDIS_MODE is %q", RedisModeSentinel))
		}
		if c.RedisSentinelName == "" {
			errs = append(errs, fmt.Errorf("REDIS_SENTINEL_NAME is required when REDIS_MODE is %q", RedisModeSentinel))
		}
	default:
		errs = append(errs, fmt.Errorf("REDIS_MODE must be %q or %q", RedisModeStandalone, RedisModeSentinel))
	}

	if c.IsProduction() && len(c.CORSOrigins) == 0 {
		errs = append(errs, fmt.Errorf("CORS_ORIGIN is required in production"))
	}

	if c.VAPIDPrivateKey != "" {
		if c.VAPIDPublicKey == "" {
			errs = append(errs, fmt.Errorf("VAPID_PUBLIC_KEY is required when VAPID_PRIVATE_KEY is set"))
		}
		if c.VAPIDSubject == "" {
			errs = append(errs, fmt.Errorf("VAPID_SUBJECT is required when VAPID_PRIVATE_KEY is set"))
		}
	}

	if c.AuthGrace < time.Second {
		errs = append(errs, fmt.Errorf("AUTH_GRACE must be at least 1s"))
	}
	if c.SweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be at least 1s"))
	}
	if c.PingInterval < time.Second {
		errs = append(errs, fmt.Errorf("PING_INTERVAL must be at least 1s"))
	}
	if c.PingTimeout <= c.PingInterval {
		errs = append(errs, fmt.Errorf("PING_TIMEOUT (%s) must exceed PING_INTERVAL (%s)", c.PingTimeout, c.PingInterval))
	}
	if c.MaxFrameBytes < 1024 {
		errs = append(errs, fmt.Errorf("MAX_FRAME_BYTES must be at least 1024"))
	}

	if c.InboxMax < 1 {
		errs = append(errs, fmt.Errorf("INBOX_MAX must be at least 1"))
	}
	if c.InboxTTL < time.Minute {
		errs = append(errs, fmt.Errorf("INBOX_TTL must be at least 1m"))
	}
	if c.MaxDevices < 1 {
		errs = append(errs, fmt.Errorf("MAX_DEVICES must be at least 1"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"24h\" or \"30m\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma-separated list, trimming whitespace and dropping empty entries.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
