// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST"           envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string   `env:"SERVER_PORT"      envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"  envDefault:"http://localhost:8080" envSeparator:","`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE" envDefault:"32768"`
	MaxTextLength  int      `env:"MAX_TEXT_LENGTH"  envDefault:"5000"`
	SendBufferSize int      `env:"SEND_BUFFER_SIZE" envDefault:"256"`
	RateLimit      RateLimitConfig

	SecretKey      string        `env:"SECRET_KEY"`
	Algorithm      string        `env:"HASH"             envDefault:"HS256"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"5m"`

	DatabaseDSN     string        `env:"DATABASE_DSN"     envDefault:"chat.db"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// A Send frame needs at most escapedRuneSize bytes per text rune (a \uXXXX
// escape) plus frameEnvelope bytes for the surrounding object.
const (
	escapedRuneSize = 6
	frameEnvelope   = 256
)

// Keepalive and close timings for every connection.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	flushWait  = 2 * time.Second
)

// ErrMissingSecret is returned by LoadConfig when SECRET_KEY is unset.
var ErrMissingSecret = errors.New("SECRET_KEY is required")

func defaultConfig() Config {
	return Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 32768,
		MaxTextLength:  5000,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Algorithm:       "HS256",
		AccessTokenTTL:  5 * time.Minute,
		DatabaseDSN:     "chat.db",
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// sanitize restores defaults for unset or non-positive values.
func (cfg Config) sanitize() Config {
	def := defaultConfig()

	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	// The read limit must admit a Send carrying the longest valid text.
	if minSize := int64(cfg.MaxTextLength*escapedRuneSize + frameEnvelope); cfg.MaxMessageSize < minSize {
		cfg.MaxMessageSize = minSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = def.AccessTokenTTL
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = def.DatabaseDSN
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() Config {
	return defaultConfig()
}

// LoadConfig reads the configuration from environment variables, applying
// defaults to anything unset or out of range.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg = cfg.sanitize()
	if cfg.SecretKey == "" {
		return Config{}, ErrMissingSecret
	}
	return cfg, nil
}
