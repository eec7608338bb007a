// Package config loads deckwork settings from a YAML file, environment
// variables and built-in defaults, in ascending precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full settings tree for the server and CLI.
type Config struct {
	Server   Server   `mapstructure:"server" yaml:"server"`
	Upstream Upstream `mapstructure:"upstream" yaml:"upstream"`
	Poller   Poller   `mapstructure:"poller" yaml:"poller"`
	Storage  Storage  `mapstructure:"storage" yaml:"storage"`
}

// Server configures the HTTP listener.
type Server struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
	Debug          bool     `mapstructure:"debug" yaml:"debug"`
}

// Addr returns the host:port listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Upstream configures the connection to the external task source.
type Upstream struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Poller tunes the status polling loops.
type Poller struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// Storage selects where finished presentations are persisted. An empty DSN
// keeps everything in memory.
type Storage struct {
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Host: "localhost",
			Port: 8080,
		},
		Upstream: Upstream{
			BaseURL: "http://localhost:9090",
			Timeout: 30 * time.Second,
		},
		Poller: Poller{
			Interval:    2 * time.Second,
			MaxBackoff:  10 * time.Second,
			MaxAttempts: 300,
		},
	}
}

// Load reads configuration from path when given, otherwise from
// deckwork.yaml in $HOME/.deckwork or the working directory. Environment
// variables prefixed DECKWORK_ override file values, e.g.
// DECKWORK_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("deckwork")
		v.AddConfigPath("$HOME/.deckwork")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("DECKWORK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing file only matters when the caller named one explicitly.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	defaults := Default()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.debug", false)
	v.SetDefault("upstream.base_url", defaults.Upstream.BaseURL)
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.timeout", defaults.Upstream.Timeout)
	v.SetDefault("poller.interval", defaults.Poller.Interval)
	v.SetDefault("poller.max_backoff", defaults.Poller.MaxBackoff)
	v.SetDefault("poller.max_attempts", defaults.Poller.MaxAttempts)
	v.SetDefault("storage.postgres_dsn", "")
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required")
	}
	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be positive")
	}
	if c.Poller.MaxBackoff < c.Poller.Interval {
		return fmt.Errorf("poller.max_backoff %s below interval %s", c.Poller.MaxBackoff, c.Poller.Interval)
	}
	if c.Poller.MaxAttempts <= 0 {
		return errors.New("poller.max_attempts must be positive")
	}
	return nil
}
