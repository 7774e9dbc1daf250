package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyACM0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// LogFormat selects the log output, "json" or "console"
	LogFormat string `yaml:"log_format"`
	// ATTimeout is the default timeout of a modem command
	ATTimeout time.Duration `yaml:"at_timeout"`
	// PollInterval is how often the server polls the modem for events
	PollInterval time.Duration `yaml:"poll_interval"`
	// PowerUpAttempts bounds the power-up cycles, 0 retries forever
	PowerUpAttempts int `yaml:"powerup_attempts"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyACM0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.LogFormat = "json"
		c.ATTimeout = time.Second
		c.PollInterval = time.Second
		return nil
	}
}

// WithFile overlays the keys present in a YAML file. An empty path is
// skipped.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if format := os.Getenv("LOG_FORMAT"); format != "" {
			c.LogFormat = format
		}

		if timeout := os.Getenv("AT_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.ATTimeout = d
			}
		}

		if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.PollInterval = d
			}
		}

		if attempts := os.Getenv("POWERUP_ATTEMPTS"); attempts != "" {
			if n, err := strconv.Atoi(attempts); err == nil {
				c.PowerUpAttempts = n
			}
		}

		return nil
	}
}

// WithFlags applies the global flags that were given on the command line
func WithFlags(cli *CLI) ConfigOption {
	return func(c *Config) error {
		if cli.BindAddress != "" {
			c.BindAddress = cli.BindAddress
		}
		if cli.SerialPort != "" {
			c.SerialPort = cli.SerialPort
		}
		if cli.BaudRate != 0 {
			c.BaudRate = cli.BaudRate
		}
		if cli.LogLevel != "" {
			c.LogLevel = cli.LogLevel
		}
		if cli.LogFormat != "" {
			c.LogFormat = cli.LogFormat
		}
		if cli.ATTimeout != 0 {
			c.ATTimeout = cli.ATTimeout
		}
		if cli.PollInterval != 0 {
			c.PollInterval = cli.PollInterval
		}
		if cli.PowerUpAttempts != 0 {
			c.PowerUpAttempts = cli.PowerUpAttempts
		}
		return nil
	}
}
