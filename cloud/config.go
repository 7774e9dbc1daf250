package cloud

import (
	"log/slog"
	"time"

	"i4.energy/across/dashcloud/modem"
)

// Config tunes the client. Zero values are replaced with defaults.
type Config struct {
	// InitialRetries is the retry count of the first resync ping; it doubles
	// after each failed power-up cycle.
	InitialRetries int
	// PingTimeout bounds each resync ping.
	PingTimeout time.Duration
	// BaseBackoff is the pause after the first failed cycle. It doubles up
	// to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxPowerUpAttempts ends power-up with ErrPowerUpFailed after that many
	// failed cycles. Zero retries forever.
	MaxPowerUpAttempts int
	// ResetPulse is how long the reset line is held low, and the settle
	// time after releasing it.
	ResetPulse time.Duration
	// ResetPin drives the modem reset input. Without it reset pulses are
	// skipped.
	ResetPin modem.Pin

	Handlers Handlers
	Logger   *slog.Logger
	Clock    modem.Clock
}

func (c *Config) setDefaults() {
	if c.InitialRetries == 0 {
		c.InitialRetries = 30
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 100 * time.Millisecond
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = time.Minute
	}
	if c.ResetPulse == 0 {
		c.ResetPulse = 50 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = modem.SystemClock{}
	}
}
