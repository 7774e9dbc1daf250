package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/phsym/console-slog"
	"i4.energy/across/dashcloud/cloud"
	"i4.energy/across/dashcloud/modem"
)

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("dashcloud"),
		kong.Description("Drive a cloud connected cellular modem over its serial port."),
		kong.UsageOnError(),
	)

	config, err := LoadConfig(WithDefaults(), WithFile(cli.Config), WithEnv(), WithFlags(&cli))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := newLogger(os.Stderr, config.LogLevel, config.LogFormat)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}

	dialer := modem.SerialDialer{
		PortName: config.SerialPort,
		BaudRate: config.BaudRate,
	}
	a, err := newApp(context.Background(), config, logger, dialer)
	if err != nil {
		logger.Error("Failed to open modem", "error", err, "port", config.SerialPort)
		os.Exit(1)
	}

	if err := a.client.Begin(); err != nil {
		logger.Error("Modem did not power up", "error", err)
		a.close()
		os.Exit(1)
	}

	err = kctx.Run(a)
	a.close()
	if err != nil {
		logger.Error("Command failed", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. The console format is meant for
// interactive use; JSON is the default.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	switch format {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})), nil
	case "console":
		return slog.New(console.NewHandler(w, &console.HandlerOptions{Level: logLevel})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// app is the opened modem with the cloud session on top of it. Every
// command runs against it.
type app struct {
	config *Config
	logger *slog.Logger
	modem  *modem.Modem
	client *cloud.Client
	hub    *eventHub
	out    io.Writer
}

// newApp dials the modem and sets up the session. A transport that can
// drive the reset line becomes the session's reset pin.
func newApp(ctx context.Context, config *Config, logger *slog.Logger, dialer modem.Dialer) (*app, error) {
	var pin modem.Pin
	capture := modem.DialerFunc(func(ctx context.Context) (modem.Transport, error) {
		t, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		pin, _ = t.(modem.Pin)
		return t, nil
	})

	modemConfig, err := modem.NewConfigBuilder().
		WithDialer(capture).
		WithATTimeout(config.ATTimeout).
		WithLogger(logger.With("component", "modem")).
		Build()
	if err != nil {
		return nil, fmt.Errorf("modem config: %w", err)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		return nil, err
	}

	hub := newEventHub(logger.With("component", "events"))
	client := cloud.New(m, cloud.Config{
		MaxPowerUpAttempts: config.PowerUpAttempts,
		ResetPin:           pin,
		Handlers:           hub.handlers(),
		Logger:             logger.With("component", "cloud"),
	})

	return &app{
		config: config,
		logger: logger,
		modem:  m,
		client: client,
		hub:    hub,
		out:    os.Stdout,
	}, nil
}

func (a *app) close() {
	a.client.End()
	if err := a.modem.Close(); err != nil {
		a.logger.Error("Failed to close modem", "error", err)
	}
}
