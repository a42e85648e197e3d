package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServerAddr     string   `env:"JACARIO_ADDR" envDefault:"localhost:8000"`
	DatabaseDSN    string   `env:"JACARIO_DSN" envDefault:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	SigningSecret  string   `env:"JACARIO_SIGNING_KEY"`
	AllowedOrigins []string `env:"JACARIO_ALLOWED_ORIGINS" envSeparator:","`

	MaxMessageLength int      `env:"JACARIO_MAX_MESSAGE_LENGTH" envDefault:"500"`
	HistoryLimit     int      `env:"JACARIO_HISTORY_LIMIT" envDefault:"100"`
	DefaultRooms     []string `env:"JACARIO_DEFAULT_ROOMS" envDefault:"General,Technology,Random,Support" envSeparator:","`

	AMQPURL       string `env:"JACARIO_AMQP_URL"`
	AuditExchange string `env:"JACARIO_AUDIT_EXCHANGE" envDefault:"jacario.audit"`

	// SigningKey is the decoded SigningSecret, set by Validate.
	SigningKey []byte `env:"-"`
}

// Load reads the configuration from the environment, falling back to
// defaults for unset variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and decodes the signing key.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("max message length must be positive, got %d", c.MaxMessageLength)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}

	signingKey, err := base64.StdEncoding.DecodeString(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	c.AllowedOrigins = compact(c.AllowedOrigins)
	c.DefaultRooms = compact(c.DefaultRooms)

	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
