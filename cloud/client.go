// Package cloud implements the session client of a cloud connected modem:
// power management, connectivity, device queries, outgoing messages and
// the delivery of inbound notifications.
package cloud

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/dashcloud/at"
	"i4.energy/across/dashcloud/modem"
)

const (
	connectTimeout    = 3 * time.Minute
	disconnectTimeout = 30 * time.Second
	listenTimeout     = 10 * time.Second
)

// Client is the session with the modem's cloud service. It owns the modem
// state machine, the outgoing message and the pending inbound data.
//
// A Client is not safe for concurrent use. Every method runs on the
// caller's goroutine; notifications are delivered from within whichever
// call reads them and from PollEvents.
type Client struct {
	m      *modem.Modem
	config Config
	logger *slog.Logger
	clock  modem.Clock

	begun         bool
	state         State
	protocol      int
	autoReconnect bool

	message

	pendingSMS    *SMS
	pendingSocket int
	inbound       []byte
	closeQueue    []int
	reconnect     bool
}

// New creates a client driving m and registers it as m's receiver. The
// modem state starts out unknown; nothing is sent until the first call.
func New(m *modem.Modem, config Config) *Client {
	config.setDefaults()
	c := &Client{
		m:      m,
		config: config,
		logger: config.Logger,
		clock:  config.Clock,
	}
	m.SetReceiver(c)
	return c
}

// Begin starts the session and powers the modem up.
func (c *Client) Begin() error {
	c.begun = true
	return c.PowerUp()
}

// End stops event delivery and resets the session to its initial values.
func (c *Client) End() {
	c.begun = false
	c.state = StateUnknown
	c.protocol = 0
	c.autoReconnect = false
	c.message = message{}
	c.pendingSMS = nil
	c.pendingSocket = 0
	c.inbound = nil
	c.closeQueue = nil
	c.reconnect = false
}

// State returns the current modem state.
func (c *Client) State() State {
	return c.state
}

// ProtocolVersion returns the version reported by the modem, 0 if unknown.
func (c *Client) ProtocolVersion() int {
	return c.protocol
}

// PowerUp brings the modem to the ready state. It resynchronizes with bare
// AT commands, then confirms the protocol version. Failed cycles pulse the
// reset line and back off exponentially.
func (c *Client) PowerUp() error {
	if c.state == StateReady {
		return nil
	}
	if c.state == StateShutdown {
		c.pulseReset()
		c.m.Command(at.CmdPing, c.config.PingTimeout, 0)
	}

	retries := c.config.InitialRetries
	delay := c.config.BaseBackoff
	for attempt := 1; ; attempt++ {
		if c.m.Command(at.CmdPing, c.config.PingTimeout, retries) == modem.ResultOK {
			if c.queryProtocol() {
				c.state = StateReady
				c.logger.Info("modem ready", "protocol", c.protocol, "attempts", attempt)
				return nil
			}
			c.logger.Warn("protocol query failed", "attempt", attempt)
		} else {
			c.logger.Warn("modem not responding", "attempt", attempt, "retries", retries)
		}

		if limit := c.config.MaxPowerUpAttempts; limit > 0 && attempt >= limit {
			return fmt.Errorf("%w after %d attempts", ErrPowerUpFailed, attempt)
		}

		c.pulseReset()
		c.clock.Sleep(delay)
		delay = min(delay*2, c.config.MaxBackoff)
		if time.Duration(retries*2)*c.config.PingTimeout <= c.config.MaxBackoff {
			retries *= 2
		}
	}
}

func (c *Client) queryProtocol() bool {
	if c.m.Query(at.CmdProtocol, 0, 0) != modem.ResultOK {
		return false
	}
	if fields, err := at.Fields(c.m.LastResponse(), at.CmdProtocol); err == nil {
		if v, err := at.Int(fields, 0); err == nil && v > 0 {
			c.protocol = v
		}
	}
	return true
}

// PowerDown delivers pending events and shuts the modem down.
func (c *Client) PowerDown() error {
	c.PollEvents()
	c.state = StateShutdown
	return c.m.Command(at.CmdShutdown, 0, 0).Err()
}

// ResetSystem pulses the modem reset line. The modem state becomes unknown
// so the next operation resynchronizes.
func (c *Client) ResetSystem() {
	c.pulseReset()
	c.state = StateUnknown
}

func (c *Client) pulseReset() {
	pin := c.config.ResetPin
	if pin == nil {
		c.logger.Debug("no reset pin, skipping reset pulse")
		return
	}
	c.logger.Warn("pulsing modem reset")
	if err := pin.Low(); err != nil {
		c.logger.Error("reset pin low", "error", err)
	}
	c.clock.Sleep(c.config.ResetPulse)
	if err := pin.High(); err != nil {
		c.logger.Error("reset pin high", "error", err)
	}
	c.clock.Sleep(c.config.ResetPulse)
}

// available powers up a modem in unknown state and refuses to talk to one
// that was shut down or disconnected on purpose.
func (c *Client) available() error {
	switch c.state {
	case StateReady:
		return nil
	case StateUnknown:
		return c.PowerUp()
	default:
		return fmt.Errorf("%w: modem %s", ErrUnavailable, c.state)
	}
}

// Connect opens the cloud link. With autoReconnect the client reconnects
// by itself whenever the modem reports a disconnect.
func (c *Client) Connect(autoReconnect bool) error {
	if err := c.PowerUp(); err != nil {
		return err
	}
	c.autoReconnect = autoReconnect
	if err := c.m.Command(at.CmdConnect, connectTimeout, 0).Err(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	status, err := c.intReply(at.CmdConnect)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if ConnectionStatus(status) != StatusConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, ConnectionStatus(status))
	}
	return nil
}

// Disconnect closes the cloud link and disables auto-reconnect.
func (c *Client) Disconnect() error {
	if c.state == StateDisconnected {
		return nil
	}
	if err := c.available(); err != nil {
		return err
	}
	c.autoReconnect = false
	if err := c.m.Command(at.CmdDisconnect, disconnectTimeout, 0).Err(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	c.state = StateDisconnected
	return nil
}

// GetConnectionStatus returns the cloud link status, StatusUnknown on error.
func (c *Client) GetConnectionStatus() (ConnectionStatus, error) {
	switch c.state {
	case StateShutdown:
		return StatusModemOff, nil
	case StateDisconnected:
		return StatusDisconnected, nil
	}
	if err := c.available(); err != nil {
		return StatusUnknown, err
	}
	if err := c.m.Command(at.CmdConnStatus, 0, 0).Err(); err != nil {
		return StatusUnknown, err
	}
	status, err := c.intReply(at.CmdConnStatus)
	if err != nil {
		return StatusUnknown, err
	}
	return ConnectionStatus(status), nil
}

// GetSignalStrength returns the RSSI, SignalUnknown on error.
func (c *Client) GetSignalStrength() (int, error) {
	if err := c.available(); err != nil {
		return SignalUnknown, err
	}
	if err := c.m.Command(at.CmdSignal, 0, 0).Err(); err != nil {
		return SignalUnknown, err
	}
	rssi, err := c.intReply(at.CmdSignal)
	if err != nil {
		return SignalUnknown, err
	}
	return rssi, nil
}

// GetNetworkTime returns the network time in the zone the network
// reported. A modem that never received network time reports 2004; that
// is treated as unavailable while there is no signal.
func (c *Client) GetNetworkTime() (time.Time, error) {
	if err := c.available(); err != nil {
		return time.Time{}, err
	}
	if err := c.m.Query(at.CmdClock, 0, 0).Err(); err != nil {
		return time.Time{}, err
	}
	fields, err := at.Fields(c.m.LastResponse(), at.CmdClock)
	if err != nil || len(fields) != 1 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnexpectedResponse, c.m.LastResponse())
	}
	t, err := parseClock(fields[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if t.Year() == 2004 {
		if rssi, _ := c.GetSignalStrength(); rssi == SignalUnknown {
			return time.Time{}, fmt.Errorf("%w: no network time", ErrUnavailable)
		}
	}
	return t, nil
}

// GetUTC returns the network time in UTC.
func (c *Client) GetUTC() (time.Time, error) {
	t, err := c.GetNetworkTime()
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseClock parses "yy/MM/dd,hh:mm:ss±zz" where zz counts quarter hours.
func parseClock(s string) (time.Time, error) {
	const layout = "06/01/02,15:04:05"
	if len(s) < len(layout) {
		return time.Time{}, fmt.Errorf("clock %q too short", s)
	}
	loc := time.UTC
	if tz := s[len(layout):]; tz != "" {
		quarters, err := strconv.Atoi(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("clock zone %q: %w", tz, err)
		}
		loc = time.FixedZone("", quarters*15*60)
	}
	return time.ParseInLocation(layout, s[:len(layout)], loc)
}

// SystemVersion returns the modem firmware version, "0.0.0" if unknown.
func (c *Client) SystemVersion() string {
	const unknown = "0.0.0"
	if c.available() != nil {
		return unknown
	}
	if c.m.Set(at.CmdSystem, "2", 0, 0) != modem.ResultOK {
		return unknown
	}
	fields, err := at.Fields(c.m.LastResponse(), at.CmdSystem)
	if err != nil || len(fields) != 2 {
		return unknown
	}
	if n, err := at.Int(fields, 0); err != nil || n != 2 {
		return unknown
	}
	return fields[1]
}

// CheckSMS returns the number of SMS queued on the modem.
func (c *Client) CheckSMS() (int, error) {
	if err := c.available(); err != nil {
		return 0, err
	}
	if err := c.m.Query(at.CmdSMSCount, 0, 0).Err(); err != nil {
		return 0, err
	}
	return c.intReply(at.CmdSMSCount)
}

// GetICCID returns the SIM card identifier.
func (c *Client) GetICCID() (string, error) {
	if err := c.available(); err != nil {
		return "", err
	}
	if err := c.m.Command(at.CmdICCID, 0, 0).Err(); err != nil {
		return "", err
	}
	fields, err := at.Fields(c.m.LastResponse(), at.CmdICCID)
	if err != nil || len(fields) != 1 {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedResponse, c.m.LastResponse())
	}
	return fields[0], nil
}

// GetIMEI returns the modem's IMEI.
func (c *Client) GetIMEI() (string, error) {
	if err := c.available(); err != nil {
		return "", err
	}
	if err := c.m.Command(at.CmdIMEI, 0, 0).Err(); err != nil {
		return "", err
	}
	imei := strings.TrimSpace(c.m.LastResponse())
	if imei == "" {
		return "", fmt.Errorf("%w: empty IMEI", ErrUnexpectedResponse)
	}
	return imei, nil
}

// GetNetworkOperator returns the name of the registered operator, "" when
// not registered.
func (c *Client) GetNetworkOperator() (string, error) {
	if err := c.available(); err != nil {
		return "", err
	}
	if err := c.m.Query(at.CmdOperator, 0, 0).Err(); err != nil {
		return "", err
	}
	fields, err := at.Fields(c.m.LastResponse(), at.CmdOperator)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedResponse, c.m.LastResponse())
	}
	if len(fields) < 3 {
		return "", nil
	}
	return fields[2], nil
}

// Listen opens an inbound listener on port and returns its socket id.
// Accepted connections are delivered through the Inbound handler.
func (c *Client) Listen(port int) (int, error) {
	if err := c.available(); err != nil {
		return 0, err
	}
	if err := c.m.Set(at.CmdListen, strconv.Itoa(port), listenTimeout, 0).Err(); err != nil {
		return 0, fmt.Errorf("listen: %w", err)
	}
	return c.intReply(at.CmdListen)
}

// GetLocation requests a position fix of the given accuracy within
// maxSeconds. The fix arrives later through the Location handler.
func (c *Client) GetLocation(accuracy, maxSeconds int) error {
	if err := c.available(); err != nil {
		return err
	}
	if err := c.m.StartSet(at.CmdLocation); err != nil {
		return err
	}
	if err := c.m.AppendSetInt(accuracy); err != nil {
		c.m.AbortSet()
		return err
	}
	if err := c.m.AppendSetInt(maxSeconds); err != nil {
		c.m.AbortSet()
		return err
	}
	return c.m.CompleteSet(0, 0).Err()
}

// SetLED switches the user LED.
func (c *Client) SetLED(on bool) error {
	if err := c.available(); err != nil {
		return err
	}
	v := "0"
	if on {
		v = "1"
	}
	return c.m.Set(at.CmdLED, v, 0, 0).Err()
}

// SetRGB sets the RGB LED to a color given as six hex digits, RRGGBB.
func (c *Client) SetRGB(color string) error {
	color = strings.TrimPrefix(color, "#")
	if len(color) != 6 {
		return fmt.Errorf("%w: %q", ErrInvalidColor, color)
	}
	if _, err := strconv.ParseUint(color, 16, 32); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidColor, color)
	}
	if err := c.available(); err != nil {
		return err
	}
	return c.m.Set(at.CmdRGB, strings.ToUpper(color), 0, 0).Err()
}

// OffRGB switches the RGB LED off.
func (c *Client) OffRGB() error {
	return c.SetRGB("000000")
}

// GetChargeState returns the charger state, ChargeUnknown on error.
func (c *Client) GetChargeState() (ChargeState, error) {
	if err := c.available(); err != nil {
		return ChargeUnknown, err
	}
	if err := c.m.Query(at.CmdCharge, 0, 0).Err(); err != nil {
		return ChargeUnknown, err
	}
	state, err := c.intReply(at.CmdCharge)
	if err != nil {
		return ChargeUnknown, err
	}
	return ChargeState(state), nil
}

// EnterPassthrough switches the modem serial line to passthrough mode.
func (c *Client) EnterPassthrough() error {
	if err := c.available(); err != nil {
		return err
	}
	return c.m.Command(at.CmdPassthrough, 0, 0).Err()
}

// intReply parses the first field of the last response as an integer.
func (c *Client) intReply(prefix string) (int, error) {
	line := c.m.LastResponse()
	fields, err := at.Fields(line, prefix)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
	v, err := at.Int(fields, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
	return v, nil
}
