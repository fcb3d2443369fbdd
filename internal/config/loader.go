package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a notifyd YAML file. See Parse for variable expansion.
func Load(path string) (*NotifyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML after expanding ${VAR} and ${VAR:-fallback} references.
// Unknown keys are rejected so a misspelled section does not silently fall
// back to defaults.
func Parse(data []byte) (*NotifyConfig, error) {
	expanded := expandEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)

	var cfg NotifyConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	// Topics are compared verbatim against the server's; trim stray spacing.
	topics := cfg.Realtime.Topics[:0]
	for _, t := range cfg.Realtime.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	cfg.Realtime.Topics = topics

	return &cfg, nil
}

// expandEnv is os.ExpandEnv with shell-style ${VAR:-fallback} support.
// The fallback is used when VAR is unset or empty.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		v := os.Getenv(name)
		if v == "" && hasFallback {
			return fallback
		}
		return v
	})
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*NotifyConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*NotifyConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}
