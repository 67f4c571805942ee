// Package config loads and validates server configuration from JSON or YAML
// files, with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mitchellwills/web-video-server/errors"
)

// EnvPrefix is prepended to the environment override names
const EnvPrefix = "WEB_VIDEO_SERVER"

// Config represents the complete server configuration
type Config struct {
	// Port the gateway listens on
	Port int `json:"port" yaml:"port"`
	// HTTPWorkers caps concurrently executing request handlers
	HTTPWorkers int `json:"http_workers" yaml:"http_workers"`
	// BusWorkers sets the frame delivery pool size
	BusWorkers int `json:"bus_workers" yaml:"bus_workers"`
	// MetricsPort exposes /metrics when non-zero
	MetricsPort int        `json:"metrics_port" yaml:"metrics_port"`
	NATS        NATSConfig `json:"nats" yaml:"nats"`
}

// NATSConfig holds frame bus connection settings
type NATSConfig struct {
	URLs     []string `json:"urls" yaml:"urls"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Username string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Port:        8080,
		HTTPWorkers: 1,
		BusWorkers:  2,
		MetricsPort: 0,
		NATS: NATSConfig{
			URLs: []string{"nats://localhost:4222"},
			Name: "web-video-server",
		},
	}
}

// Load reads a configuration file, chosen by extension (.json, .yaml, .yml),
// applies environment overrides and validates the result. An empty path
// yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", errors.ErrMissingConfig, path)
			}
			return nil, fmt.Errorf("read config file: %w", err)
		}

		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse JSON config %s: %w", path, err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse YAML config %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("unsupported config extension %q (want .json, .yaml or .yml)", ext)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments adjust settings without a
// config file
func (c *Config) applyEnvOverrides() {
	if val := os.Getenv(EnvPrefix + "_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Port = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_HTTP_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.HTTPWorkers = n
		}
	}
	if val := os.Getenv(EnvPrefix + "_BUS_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.BusWorkers = n
		}
	}
	if val := os.Getenv(EnvPrefix + "_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.MetricsPort = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URLS"); val != "" {
		c.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(EnvPrefix + "_NATS_NAME"); val != "" {
		c.NATS.Name = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_USERNAME"); val != "" {
		c.NATS.Username = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_PASSWORD"); val != "" {
		c.NATS.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_TOKEN"); val != "" {
		c.NATS.Token = val
	}
}

// Validate checks if the config is usable
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", errors.ErrInvalidConfig, c.Port)
	}
	if c.HTTPWorkers < 1 {
		return fmt.Errorf("%w: http_workers must be at least 1", errors.ErrInvalidConfig)
	}
	if c.BusWorkers < 1 {
		return fmt.Errorf("%w: bus_workers must be at least 1", errors.ErrInvalidConfig)
	}
	if c.MetricsPort != 0 {
		if c.MetricsPort < 1 || c.MetricsPort > 65535 {
			return fmt.Errorf("%w: metrics_port %d out of range", errors.ErrInvalidConfig, c.MetricsPort)
		}
		if c.MetricsPort == c.Port {
			return fmt.Errorf("%w: metrics_port must differ from port", errors.ErrInvalidConfig)
		}
	}
	if len(c.NATS.URLs) == 0 {
		return fmt.Errorf("%w: nats.urls must name at least one server", errors.ErrInvalidConfig)
	}
	for _, url := range c.NATS.URLs {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("%w: nats.urls contains an empty entry", errors.ErrInvalidConfig)
		}
	}
	return nil
}
