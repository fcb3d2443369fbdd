package config

import "time"

// NotifyConfig is the root configuration for a notifyd instance.
type NotifyConfig struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	API      APIConfig      `yaml:"api"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Health   HealthConfig   `yaml:"health"`
	Log      LogConfig      `yaml:"log"`
}

// RealtimeConfig holds notification WebSocket settings.
type RealtimeConfig struct {
	URL                  string        `yaml:"url"`
	TokenParam           string        `yaml:"token_param"` // Query parameter carrying the access token
	Topics               []string      `yaml:"topics"`      // Subscribed on startup
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"` // 0 disables the watchdog
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// APIConfig holds dashboard REST API settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Username   string        `yaml:"username"` // Login is skipped when empty
	Password   string        `yaml:"password"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ArchiveConfig holds the optional Postgres event archive.
type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Database        DBConfig      `yaml:"database"`
	Table           string        `yaml:"table"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	BufferSize      int           `yaml:"buffer_size"`
	ConnectAttempts uint          `yaml:"connect_attempts"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health endpoint settings. Port 0 disables it.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
