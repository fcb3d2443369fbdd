package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTokenParam           = "token"
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultArchiveTable         = "realtime_events"
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultConnectAttempts      = 5
	DefaultLogLevel             = "info"
)

func (c *NotifyConfig) applyDefaults() {
	// Realtime defaults
	if c.Realtime.TokenParam == "" {
		c.Realtime.TokenParam = DefaultTokenParam
	}
	if c.Realtime.HeartbeatInterval == 0 {
		c.Realtime.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Realtime.ReconnectBaseDelay == 0 {
		c.Realtime.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.Table == "" {
		c.Archive.Table = DefaultArchiveTable
	}
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
	if c.Archive.ConnectAttempts == 0 {
		c.Archive.ConnectAttempts = DefaultConnectAttempts
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
