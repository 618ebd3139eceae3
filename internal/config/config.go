package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the explicit per-process configuration object. It is built
// once at startup and passed down; nothing in the gateway reads
// module-level state.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig configures the external completion API.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Auth is "api_key" (default) or "sigv4".
	Auth    string `yaml:"auth"`
	Region  string `yaml:"region"`
	Service string `yaml:"service"`
}

// StoreConfig configures the durable log store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig lists the API keys the gateway accepts.
type AuthConfig struct {
	Keys []KeyConfig `yaml:"keys"`
}

// KeyConfig is one accepted API key and its capabilities.
type KeyConfig struct {
	Token    string `yaml:"token"`
	Project  string `yaml:"project"`
	ReadOnly bool   `yaml:"read_only"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
		Upstream: UpstreamConfig{
			BaseURL: DefaultUpstreamBaseURL,
			Auth:    UpstreamAuthAPIKey,
		},
		Store:   StoreConfig{Path: DefaultStorePath},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file, expanding ${ENV_VAR} references, and
// applies defaults for anything unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if c.Upstream.Auth == "" {
		c.Upstream.Auth = UpstreamAuthAPIKey
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
