package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *NotifyConfig) Validate() error {
	if c.Realtime.URL == "" {
		return errors.New("realtime.url is required")
	}
	u, err := url.Parse(c.Realtime.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("realtime.url must be a ws:// or wss:// URL, got %q", c.Realtime.URL)
	}
	if c.Realtime.HeartbeatInterval < 0 {
		return errors.New("realtime.heartbeat_interval must be >= 0")
	}
	if c.Realtime.PongTimeout < 0 {
		return errors.New("realtime.pong_timeout must be >= 0")
	}
	if c.Realtime.PongTimeout > 0 && c.Realtime.PongTimeout <= c.Realtime.HeartbeatInterval {
		return fmt.Errorf("realtime.pong_timeout (%s) must exceed heartbeat_interval (%s)",
			c.Realtime.PongTimeout, c.Realtime.HeartbeatInterval)
	}
	if c.Realtime.ReconnectBaseDelay <= 0 {
		return errors.New("realtime.reconnect_base_delay must be > 0")
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return errors.New("realtime.max_reconnect_attempts must be >= 0")
	}
	for i, topic := range c.Realtime.Topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("realtime.topics[%d] is empty", i)
		}
	}

	if c.API.Username != "" || c.API.Password != "" {
		if c.API.BaseURL == "" {
			return errors.New("api.base_url is required when credentials are set")
		}
		if c.API.Username == "" {
			return errors.New("api.username is required when api.password is set")
		}
		if c.API.Password == "" {
			return errors.New("api.password is required when api.username is set")
		}
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535, got %d", c.Health.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel converts a log.level value to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}
