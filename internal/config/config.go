// Package config loads robotterm settings from a YAML file. Every
// field has a default, so running without a config file works.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML values like "10s" or "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds all application configuration.
type Config struct {
	RobotName       string   `yaml:"robot_name"`        // paired-device alias to connect to
	ConnectTimeout  Duration `yaml:"connect_timeout"`   // bound on reaching Connected
	TransferUnit    int      `yaml:"transfer_unit"`     // payload bytes per BLE write
	InterChunkDelay Duration `yaml:"inter_chunk_delay"` // pause between chunks of one command
	LogLevel        string   `yaml:"log_level"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "robotterm")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values for a
// micro:bit-class peripheral.
func Default() *Config {
	return &Config{
		RobotName:       "BBC micro:bit",
		ConnectTimeout:  Duration(10 * time.Second),
		TransferUnit:    20,
		InterChunkDelay: Duration(20 * time.Millisecond),
		LogLevel:        "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.RobotName == "" {
		return fmt.Errorf("robot_name must not be empty")
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}

	// 512 is the ATT maximum attribute value length.
	if c.TransferUnit <= 0 || c.TransferUnit > 512 {
		return fmt.Errorf("transfer_unit must be between 1 and 512, got %d", c.TransferUnit)
	}

	if c.InterChunkDelay < 0 {
		return fmt.Errorf("inter_chunk_delay must not be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}
