package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
realtime:
  url: ws://localhost:8000/api/ws
  topics:
    - wallet_updates
    - system_status
  heartbeat_interval: 15s
api:
  base_url: http://localhost:8000
  username: admin
  password: admin123
archive:
  enabled: true
  database:
    host: localhost
    port: 5433
    name: wallets
    user: notify
    password: notifypass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Realtime.URL != "ws://localhost:8000/api/ws" {
		t.Errorf("Realtime.URL = %q, want %q", cfg.Realtime.URL, "ws://localhost:8000/api/ws")
	}
	if len(cfg.Realtime.Topics) != 2 || cfg.Realtime.Topics[1] != "system_status" {
		t.Errorf("Realtime.Topics = %v", cfg.Realtime.Topics)
	}
	if cfg.Realtime.HeartbeatInterval != 15*time.Second {
		t.Errorf("Realtime.HeartbeatInterval = %v, want 15s", cfg.Realtime.HeartbeatInterval)
	}
	if cfg.API.Username != "admin" {
		t.Errorf("API.Username = %q, want %q", cfg.API.Username, "admin")
	}
	if !cfg.Archive.Enabled || cfg.Archive.Database.Port != 5433 {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_API_PASSWORD", "secret123")
	t.Setenv("TEST_DB_PASSWORD", "dbsecret")

	yaml := `
realtime:
  url: ws://localhost:8000/api/ws
api:
  base_url: http://localhost:8000
  username: admin
  password: ${TEST_API_PASSWORD}
archive:
  database:
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Password != "secret123" {
		t.Errorf("API.Password = %q, want %q", cfg.API.Password, "secret123")
	}
	if cfg.Archive.Database.Password != "dbsecret" {
		t.Errorf("Archive.Database.Password = %q, want %q", cfg.Archive.Database.Password, "dbsecret")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
realtime:
  url: wss://dashboard.example.com/api/ws
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Realtime.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("Realtime.HeartbeatInterval = %v, want default %v", cfg.Realtime.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Realtime.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Realtime.ReconnectBaseDelay = %v, want default %v", cfg.Realtime.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Realtime.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Realtime.MaxReconnectAttempts = %d, want default %d", cfg.Realtime.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Realtime.PongTimeout != 0 {
		t.Errorf("Realtime.PongTimeout = %v, want disabled", cfg.Realtime.PongTimeout)
	}
	if cfg.Realtime.TokenParam != DefaultTokenParam {
		t.Errorf("Realtime.TokenParam = %q, want default %q", cfg.Realtime.TokenParam, DefaultTokenParam)
	}
	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if cfg.Archive.Database.Port != DefaultDBPort {
		t.Errorf("Archive.Database.Port = %d, want default %d", cfg.Archive.Database.Port, DefaultDBPort)
	}
	if cfg.Archive.Table != DefaultArchiveTable {
		t.Errorf("Archive.Table = %q, want default %q", cfg.Archive.Table, DefaultArchiveTable)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want default %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "realtime:\n  url: http://localhost/ws\n")

	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("expected validation error for http scheme")
	}

	path = writeTempFile(t, "realtime:\n  url: ws://localhost/ws\n")
	if _, err := LoadAndValidate(path); err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeTempFile(t, "realtime: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestParse(t *testing.T) {
	t.Setenv("TEST_NOTIFY_HOST", "db.internal")
	t.Setenv("TEST_NOTIFY_EMPTY", "")

	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, cfg *NotifyConfig)
		wantErr bool
	}{
		{
			name: "fallback when unset",
			yaml: "archive:\n  database:\n    user: ${TEST_NOTIFY_UNSET:-notify}\n",
			check: func(t *testing.T, cfg *NotifyConfig) {
				if cfg.Archive.Database.User != "notify" {
					t.Errorf("User = %q, want notify", cfg.Archive.Database.User)
				}
			},
		},
		{
			name: "fallback when empty",
			yaml: "log:\n  level: ${TEST_NOTIFY_EMPTY:-debug}\n",
			check: func(t *testing.T, cfg *NotifyConfig) {
				if cfg.Log.Level != "debug" {
					t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
				}
			},
		},
		{
			name: "set value wins over fallback",
			yaml: "archive:\n  database:\n    host: ${TEST_NOTIFY_HOST:-localhost}\n",
			check: func(t *testing.T, cfg *NotifyConfig) {
				if cfg.Archive.Database.Host != "db.internal" {
					t.Errorf("Host = %q, want db.internal", cfg.Archive.Database.Host)
				}
			},
		},
		{
			name: "blank topics dropped",
			yaml: "realtime:\n  topics:\n    - \" notifications \"\n    - \"\"\n    - import:7\n",
			check: func(t *testing.T, cfg *NotifyConfig) {
				want := []string{"notifications", "import:7"}
				if len(cfg.Realtime.Topics) != len(want) {
					t.Fatalf("Topics = %q, want %q", cfg.Realtime.Topics, want)
				}
				for i := range want {
					if cfg.Realtime.Topics[i] != want[i] {
						t.Errorf("Topics[%d] = %q, want %q", i, cfg.Realtime.Topics[i], want[i])
					}
				}
			},
		},
		{
			name: "empty document",
			yaml: "",
			check: func(t *testing.T, cfg *NotifyConfig) {
				if cfg.Realtime.URL != "" {
					t.Errorf("Realtime.URL = %q, want empty", cfg.Realtime.URL)
				}
			},
		},
		{
			name:    "unknown key",
			yaml:    "realtime:\n  heartbeat: 10s\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("NOTIFYD_USERNAME", "")
	t.Setenv("NOTIFYD_PASSWORD", "")

	cfg, err := LoadWithDefaults(filepath.Join("..", "..", "configs", "notifyd.example.yaml"))
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config invalid: %v", err)
	}
}

func validConfig() NotifyConfig {
	cfg := NotifyConfig{
		Realtime: RealtimeConfig{URL: "ws://localhost:8000/api/ws"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*NotifyConfig)
		wantErr string
	}{
		{
			name:    "missing realtime url",
			mutate:  func(c *NotifyConfig) { c.Realtime.URL = "" },
			wantErr: "realtime.url is required",
		},
		{
			name:    "http realtime url",
			mutate:  func(c *NotifyConfig) { c.Realtime.URL = "http://localhost/ws" },
			wantErr: `realtime.url must be a ws:// or wss:// URL, got "http://localhost/ws"`,
		},
		{
			name: "pong timeout not above heartbeat",
			mutate: func(c *NotifyConfig) {
				c.Realtime.HeartbeatInterval = 30 * time.Second
				c.Realtime.PongTimeout = 10 * time.Second
			},
			wantErr: "realtime.pong_timeout (10s) must exceed heartbeat_interval (30s)",
		},
		{
			name:    "empty topic",
			mutate:  func(c *NotifyConfig) { c.Realtime.Topics = []string{"wallet_updates", " "} },
			wantErr: "realtime.topics[1] is empty",
		},
		{
			name:    "password without username",
			mutate:  func(c *NotifyConfig) { c.API.BaseURL = "http://localhost"; c.API.Password = "x" },
			wantErr: "api.username is required when api.password is set",
		},
		{
			name:    "credentials without base url",
			mutate:  func(c *NotifyConfig) { c.API.Username = "admin"; c.API.Password = "x" },
			wantErr: "api.base_url is required when credentials are set",
		},
		{
			name:    "archive missing host",
			mutate:  func(c *NotifyConfig) { c.Archive.Enabled = true },
			wantErr: "archive.database.host is required",
		},
		{
			name: "archive min_conns exceeds max_conns",
			mutate: func(c *NotifyConfig) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "archive.database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "disabled archive is not validated",
			mutate:  func(c *NotifyConfig) { c.Archive.Database = DBConfig{} },
			wantErr: "",
		},
		{
			name:    "health port out of range",
			mutate:  func(c *NotifyConfig) { c.Health.Port = 70000 },
			wantErr: "health.port must be between 0 and 65535, got 70000",
		},
		{
			name:    "bad log level",
			mutate:  func(c *NotifyConfig) { c.Log.Level = "verbose" },
			wantErr: `log.level: unknown level "verbose"`,
		},
		{
			name: "valid config",
			mutate: func(c *NotifyConfig) {
				c.Realtime.Topics = []string{"wallet_updates", "import:42"}
				c.Realtime.PongTimeout = time.Minute
				c.API = APIConfig{BaseURL: "http://localhost:8000", Username: "admin", Password: "pass", MaxRetries: 3}
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 4, MinConns: 1}
				c.Health.Port = 8080
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
