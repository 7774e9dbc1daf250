package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(WithDefaults())
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", config.BindAddress)
	require.Equal(t, "/dev/ttyACM0", config.SerialPort)
	require.Equal(t, 115200, config.BaudRate)
	require.Equal(t, "info", config.LogLevel)
	require.Equal(t, "json", config.LogFormat)
	require.Equal(t, time.Second, config.ATTimeout)
	require.Equal(t, time.Second, config.PollInterval)
	require.Zero(t, config.PowerUpAttempts)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashcloud.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestWithFile(t *testing.T) {
	t.Run("overlays present keys", func(t *testing.T) {
		path := writeConfig(t, "serial_port: /dev/ttyUSB3\npoll_interval: 250ms\npowerup_attempts: 4\n")

		config, err := LoadConfig(WithDefaults(), WithFile(path))
		require.NoError(t, err)
		require.Equal(t, "/dev/ttyUSB3", config.SerialPort)
		require.Equal(t, 250*time.Millisecond, config.PollInterval)
		require.Equal(t, 4, config.PowerUpAttempts)
		require.Equal(t, 115200, config.BaudRate, "absent keys keep their value")
	})

	t.Run("empty path is skipped", func(t *testing.T) {
		config, err := LoadConfig(WithDefaults(), WithFile(""))
		require.NoError(t, err)
		require.Equal(t, "/dev/ttyACM0", config.SerialPort)
	})

	t.Run("empty file", func(t *testing.T) {
		config, err := LoadConfig(WithDefaults(), WithFile(writeConfig(t, "")))
		require.NoError(t, err)
		require.Equal(t, "/dev/ttyACM0", config.SerialPort)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := LoadConfig(WithDefaults(), WithFile(writeConfig(t, "sim_pin: 1234\n")))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(WithFile(filepath.Join(t.TempDir(), "nope.yaml")))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestWithEnv(t *testing.T) {
	t.Setenv("SERIAL_PORT", "/dev/ttyS1")
	t.Setenv("BAUD_RATE", "9600")
	t.Setenv("BIND_ADDRESS", "127.0.0.1:9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("AT_TIMEOUT", "3s")
	t.Setenv("POLL_INTERVAL", "not-a-duration")
	t.Setenv("POWERUP_ATTEMPTS", "7")

	config, err := LoadConfig(WithDefaults(), WithEnv())
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyS1", config.SerialPort)
	require.Equal(t, 9600, config.BaudRate)
	require.Equal(t, "127.0.0.1:9000", config.BindAddress)
	require.Equal(t, "debug", config.LogLevel)
	require.Equal(t, "console", config.LogFormat)
	require.Equal(t, 3*time.Second, config.ATTimeout)
	require.Equal(t, time.Second, config.PollInterval, "invalid values are ignored")
	require.Equal(t, 7, config.PowerUpAttempts)
}

func TestWithFlags(t *testing.T) {
	t.Setenv("SERIAL_PORT", "/dev/ttyS1")
	path := writeConfig(t, "bind_address: 10.0.0.1:80\nlog_level: warn\n")

	cli := &CLI{
		SerialPort:   "/dev/ttyUSB9",
		PollInterval: 5 * time.Second,
	}
	config, err := LoadConfig(WithDefaults(), WithFile(path), WithEnv(), WithFlags(cli))
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB9", config.SerialPort, "flags beat the environment")
	require.Equal(t, 5*time.Second, config.PollInterval)
	require.Equal(t, "10.0.0.1:80", config.BindAddress, "unset flags keep the file value")
	require.Equal(t, "warn", config.LogLevel)
}
