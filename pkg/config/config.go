package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/device"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
//
// Zero values are replaced by the `default` tags, so a zero scan timeout reads
// as 10s; use a negative value to scan until stopped.
type Config struct {
	LogLevel          string        `yaml:"log_level" json:"log_level" default:"info"`
	ScanTimeout       time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout" json:"disconnect_timeout" default:"10s"`
	AutoConnect       bool          `yaml:"autoconnect" json:"autoconnect"`
	Services          []string      `yaml:"services" json:"services"`
	OutputFormat      string        `yaml:"output_format" json:"output_format" default:"table"` // table, json
	EventBuffer       uint32        `yaml:"event_buffer" json:"event_buffer" default:"1024"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	defaults.SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values and normalizes the service filter in place.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("unsupported output format: %s", c.OutputFormat)
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must not be negative: %s", c.ConnectTimeout)
	}
	if c.DisconnectTimeout <= 0 {
		return fmt.Errorf("disconnect timeout must be positive: %s", c.DisconnectTimeout)
	}

	if len(c.Services) > 0 {
		services, err := device.ValidateUUID(c.Services...)
		if err != nil {
			return err
		}
		c.Services = services
	}
	return nil
}

// Level returns the configured log level, or Info when it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
