// Package config provides YAML-based configuration loading for quicknet.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node/application
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Server holds the listening role settings
	Server ServerConfig `mapstructure:"server"`

	// Client holds the connecting role settings
	Client ClientConfig `mapstructure:"client"`

	// HTTP holds the request/response gateway settings
	HTTP HTTPConfig `mapstructure:"http"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig tunes the listening session.
type ServerConfig struct {
	// Port to bind on all local addresses
	Port uint16 `mapstructure:"port"`
	// PollIntervalMS is the sleep between run-loop iterations
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	// ReceiveBatch bounds inbound messages drained per peer per sweep
	ReceiveBatch int `mapstructure:"receive_batch"`
}

// ClientConfig tunes the connecting session.
type ClientConfig struct {
	// ServerAddr is the endpoint to connect to, "host:port"
	ServerAddr string `mapstructure:"server_addr"`
	// ReceiveBatch bounds inbound messages drained per call
	ReceiveBatch int `mapstructure:"receive_batch"`
}

// HTTPConfig tunes the HTTP gateway; it is independent of the session core.
type HTTPConfig struct {
	// Enable toggles the gateway
	Enable bool `mapstructure:"enable"`
	// Addr to serve on, e.g. ":8080"
	Addr string `mapstructure:"addr"`
	// CORSOrigins allowed for browser clients; empty means allow all
	CORSOrigins []string `mapstructure:"cors_origins"`
	// StaticDir, when set, is mounted at StaticMount
	StaticDir   string `mapstructure:"static_dir"`
	StaticMount string `mapstructure:"static_mount"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "quicknet",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/quicknet.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Server: ServerConfig{
			Port:           27020,
			PollIntervalMS: 10,
			ReceiveBatch:   16,
		},
		Client: ClientConfig{
			ServerAddr:   "127.0.0.1:27020",
			ReceiveBatch: 16,
		},
		HTTP: HTTPConfig{
			Enable:      false,
			Addr:        ":8080",
			StaticMount: "/static",
		},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations and supports environment overrides.
// Environment variables use the prefix QUICKNET and `.`/`-` become `_`.
// Example: QUICKNET_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QUICKNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.poll_interval_ms", cfg.Server.PollIntervalMS)
	v.SetDefault("server.receive_batch", cfg.Server.ReceiveBatch)
	v.SetDefault("client.server_addr", cfg.Client.ServerAddr)
	v.SetDefault("client.receive_batch", cfg.Client.ReceiveBatch)
	v.SetDefault("http.enable", cfg.HTTP.Enable)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.cors_origins", cfg.HTTP.CORSOrigins)
	v.SetDefault("http.static_dir", cfg.HTTP.StaticDir)
	v.SetDefault("http.static_mount", cfg.HTTP.StaticMount)

	if path == "" {
		if envPath := os.Getenv("QUICKNET_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `quicknet`
		v.SetConfigName("quicknet")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".quicknet"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Server.PollIntervalMS <= 0 {
		c.Server.PollIntervalMS = 10
	}
	if c.Server.ReceiveBatch <= 0 {
		c.Server.ReceiveBatch = 16
	}
	if c.Client.ReceiveBatch <= 0 {
		c.Client.ReceiveBatch = 16
	}
	if strings.TrimSpace(c.Client.ServerAddr) == "" {
		return errors.New("client.server_addr must not be empty")
	}
	if c.HTTP.Enable && strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr must not be empty when http.enable is set")
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
