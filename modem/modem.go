package modem

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"i4.energy/across/dashcloud/at"
)

const (
	// MaxCommandLength bounds the command name, excluding the AT prefix.
	MaxCommandLength = 31
	// MaxValueLength bounds the value part of a set, including any values
	// appended to a staged set.
	MaxValueLength = 63
	// MaxLineLength bounds a single received line.
	MaxLineLength = 255
	// MaxRawRead bounds a single RawRead.
	MaxRawRead = 4096
)

// Result is the outcome of a synchronous exchange with the modem.
type Result int

const (
	ResultOK Result = iota
	ResultTimeout
	ResultError
	ResultNoMatch
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultTimeout:
		return "TIMEOUT"
	case ResultError:
		return "ERROR"
	case ResultNoMatch:
		return "NO_MATCH"
	default:
		return "UNKNOWN"
	}
}

// Err maps the result to nil or one of ErrTimeout, ErrError, ErrNoMatch.
func (r Result) Err() error {
	switch r {
	case ResultOK:
		return nil
	case ResultTimeout:
		return ErrTimeout
	case ResultNoMatch:
		return ErrNoMatch
	default:
		return ErrError
	}
}

// Receiver handles unsolicited notifications. OnURC runs synchronously
// inside whatever engine call read the line, so it must not start a new
// exchange itself; work that needs the wire belongs in OnIdle.
type Receiver interface {
	OnURC(u at.URC)
}

// Idler is implemented by receivers that want a callback once the engine
// has no exchange in progress. Commands issued from OnIdle are safe.
type Idler interface {
	OnIdle()
}

// Modem drives the AT command/response protocol over a Transport.
//
// All calls block the caller until a terminal response, the marker
// character of a staged set, or the timeout. There is exactly one exchange
// in flight at a time and the type is not safe for concurrent use.
type Modem struct {
	// transport provides the physical connection to the modem
	transport Transport
	// closed indicates if the modem has been shut down
	closed bool
	// atTimeout is the default timeout for exchanges given a zero timeout
	atTimeout time.Duration
	// pollInterval is the sleep between checks of an empty transport
	pollInterval time.Duration
	clock        Clock
	logger       *slog.Logger
	receiver     Receiver

	// last holds the most recent non-terminal response line
	last string
	// line accumulates the bytes of the line being read
	line []byte
	// overflow is set while the bytes of an over-long line are discarded
	overflow bool

	// staged holds a command line built by StartSet/AppendSet
	staged []byte
	// stagedValues counts values appended after the '='
	stagedValues int
	// depth counts nested exchanges; OnIdle runs when it drops to zero
	depth int
	idling bool
}

// New creates a new Modem with the given configuration. It establishes the
// transport connection through the configured Dialer.
//
// Returns an error if no Dialer is configured or the transport connection
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	return &Modem{
		transport:    transport,
		atTimeout:    config.ATTimeout,
		pollInterval: config.PollInterval,
		clock:        config.Clock,
		logger:       config.Logger,
		receiver:     config.Receiver,
		line:         make([]byte, 0, MaxLineLength),
	}, nil
}

// SetReceiver replaces the notification handler.
func (m *Modem) SetReceiver(r Receiver) {
	m.receiver = r
}

// Close shuts down the modem and releases all resources.
// After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// LastResponse returns the last non-terminal line received during the most
// recent exchange, or "" if there was none. It is overwritten by the next
// exchange.
func (m *Modem) LastResponse() string {
	return m.last
}

// Command sends AT<name> and waits for OK or ERROR. A timeout is retried
// up to retries more times; ERROR is returned at once.
func (m *Modem) Command(name string, timeout time.Duration, retries int) Result {
	return m.CommandExpect(name, "", timeout, retries)
}

// CommandExpect is Command with an additional terminal line: receiving
// expected ends the exchange with ResultOK, while OK without expected
// yields ResultNoMatch.
func (m *Modem) CommandExpect(name, expected string, timeout time.Duration, retries int) Result {
	if len(name) > MaxCommandLength {
		return m.reject(name, ErrCommandTooLong)
	}
	return m.exchange(at.CommandLine(name), expected, timeout, retries)
}

// Query sends AT<name>? and waits for OK or ERROR.
func (m *Modem) Query(name string, timeout time.Duration, retries int) Result {
	return m.QueryExpect(name, "", timeout, retries)
}

func (m *Modem) QueryExpect(name, expected string, timeout time.Duration, retries int) Result {
	if len(name) > MaxCommandLength {
		return m.reject(name, ErrCommandTooLong)
	}
	return m.exchange(at.QueryLine(name), expected, timeout, retries)
}

// Set sends AT<name>=<value> and waits for OK or ERROR. The value is
// written verbatim; callers keep it free of control characters.
func (m *Modem) Set(name, value string, timeout time.Duration, retries int) Result {
	return m.SetExpect(name, value, "", timeout, retries)
}

func (m *Modem) SetExpect(name, value, expected string, timeout time.Duration, retries int) Result {
	if len(name) > MaxCommandLength || len(value) > MaxValueLength {
		return m.reject(name, ErrCommandTooLong)
	}
	return m.exchange(at.SetLine(name, value), expected, timeout, retries)
}

// StartSet begins a staged set of name. Values are added with the Append
// methods and the line is sent by IntermediateSet or CompleteSet. The
// engine counts as busy from StartSet until CompleteSet, WaitSetComplete
// or AbortSet, so no idle work is interleaved with the upload.
func (m *Modem) StartSet(name string) error {
	if len(name) > MaxCommandLength {
		return ErrCommandTooLong
	}
	if m.staged == nil {
		m.enter()
	}
	m.staged = append(make([]byte, 0, 64), at.Prefix+name+"="...)
	m.stagedValues = 0
	return nil
}

// AppendSet appends a literal value to the staged set. Values after the
// first are separated by commas.
func (m *Modem) AppendSet(value string) error {
	if m.staged == nil {
		return ErrNoStagedSet
	}
	extra := len(value)
	if m.stagedValues > 0 {
		extra++
	}
	if m.stagedValueLen()+extra > MaxValueLength {
		return ErrCommandTooLong
	}
	if m.stagedValues > 0 {
		m.staged = append(m.staged, ',')
	}
	m.staged = append(m.staged, value...)
	m.stagedValues++
	return nil
}

// AppendSetInt appends a decimal value to the staged set.
func (m *Modem) AppendSetInt(v int) error {
	return m.AppendSet(strconv.Itoa(v))
}

func (m *Modem) stagedValueLen() int {
	for i, b := range m.staged {
		if b == '=' {
			return len(m.staged) - i - 1
		}
	}
	return 0
}

// IntermediateSet sends the staged line and waits for the single marker
// byte that announces the modem is ready for raw payload. Lines arriving
// before the marker are handled as in any exchange; ERROR ends the wait.
func (m *Modem) IntermediateSet(marker byte, timeout time.Duration, retries int) Result {
	if m.staged == nil {
		return m.reject("", ErrNoStagedSet)
	}
	line := string(m.staged) + at.CR
	timeout = m.timeout(timeout)

	m.enter()
	defer m.leave()
	for attempt := 0; ; attempt++ {
		m.last = ""
		res := ResultTimeout
		if err := m.write(line); err == nil {
			res = m.awaitMarker(marker, timeout)
		}
		if res != ResultTimeout || attempt >= retries {
			return res
		}
		m.logger.Debug("retrying staged set", "line", line, "attempt", attempt+1)
	}
}

// DataWrite writes raw payload bytes, bypassing line framing.
func (m *Modem) DataWrite(p []byte) error {
	if m.transport == nil {
		return ErrNotInitialized
	}
	m.logger.Debug("tx data", "bytes", len(p))
	if _, err := m.transport.Write(p); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// DataWriteByte writes a single raw payload byte.
func (m *Modem) DataWriteByte(b byte) error {
	return m.DataWrite([]byte{b})
}

// CompleteSet sends the staged line and waits for the terminal response.
func (m *Modem) CompleteSet(timeout time.Duration, retries int) Result {
	return m.CompleteSetExpect("", timeout, retries)
}

func (m *Modem) CompleteSetExpect(expected string, timeout time.Duration, retries int) Result {
	if m.staged == nil {
		return m.reject("", ErrNoStagedSet)
	}
	line := string(m.staged) + at.CR
	m.staged = nil
	defer m.leave()
	return m.exchange(line, expected, timeout, retries)
}

// WaitSetComplete waits for the terminal response of a staged set whose
// line was already sent by IntermediateSet. Nothing is rewritten on retry.
func (m *Modem) WaitSetComplete(timeout time.Duration, retries int) Result {
	return m.WaitSetCompleteExpect("", timeout, retries)
}

func (m *Modem) WaitSetCompleteExpect(expected string, timeout time.Duration, retries int) Result {
	if m.staged == nil {
		return m.reject("", ErrNoStagedSet)
	}
	m.staged = nil
	timeout = m.timeout(timeout)

	defer m.leave()
	for attempt := 0; ; attempt++ {
		m.last = ""
		res := m.await(expected, timeout)
		if res != ResultTimeout || attempt >= retries {
			return res
		}
	}
}

// AbortSet drops a staged set without waiting for its completion.
func (m *Modem) AbortSet() {
	if m.staged == nil {
		return
	}
	m.staged = nil
	m.leave()
}

// RawRead reads exactly n bytes that follow a line on the wire, such as the
// body announced by an SMS notification.
func (m *Modem) RawRead(n int, timeout time.Duration) ([]byte, error) {
	if m.transport == nil {
		return nil, ErrNotInitialized
	}
	if n < 0 || n > MaxRawRead {
		return nil, fmt.Errorf("%w: %d bytes", ErrReadTooLong, n)
	}
	timeout = m.timeout(timeout)
	buf := make([]byte, 0, n)
	start := m.clock.Now()
	for len(buf) < n {
		if m.transport.Buffered() == 0 {
			if m.clock.Now().Sub(start) >= timeout {
				return buf, ErrTimeout
			}
			m.clock.Sleep(m.pollInterval)
			continue
		}
		b, err := m.readByte()
		if err != nil {
			return buf, err
		}
		buf = append(buf, b)
	}
	return buf, nil
}

// CheckURC dispatches any notification lines already waiting on the
// transport without issuing a command. Other complete lines are dropped.
func (m *Modem) CheckURC() {
	if m.transport == nil {
		return
	}
	m.enter()
	defer m.leave()

	start := m.clock.Now()
	for m.transport.Buffered() > 0 {
		line, urc, err := m.next(start, m.atTimeout)
		if err != nil {
			return
		}
		if !urc {
			m.logger.Debug("dropping unsolicited line", "line", line)
		}
	}
}

// exchange writes line and awaits the terminal response, resending on
// timeout.
func (m *Modem) exchange(line, expected string, timeout time.Duration, retries int) Result {
	timeout = m.timeout(timeout)

	m.enter()
	defer m.leave()
	for attempt := 0; ; attempt++ {
		m.last = ""
		res := ResultTimeout
		if err := m.write(line); err == nil {
			res = m.await(expected, timeout)
		}
		if res != ResultTimeout || attempt >= retries {
			if res != ResultOK {
				m.logger.Debug("command failed", "line", line, "result", res, "attempts", attempt+1)
			}
			return res
		}
		m.logger.Debug("retrying command", "line", line, "attempt", attempt+1)
	}
}

// await reads lines until a terminal one. Non-terminal lines are kept as
// the last response.
func (m *Modem) await(expected string, timeout time.Duration) Result {
	start := m.clock.Now()
	for {
		line, err := m.readLine(start, timeout)
		if err != nil {
			return ResultTimeout
		}
		switch {
		case expected != "" && line == expected:
			m.last = line
			return ResultOK
		case line == at.OK:
			if expected != "" {
				return ResultNoMatch
			}
			return ResultOK
		case line == at.ERROR:
			return ResultError
		default:
			m.last = line
		}
	}
}

func (m *Modem) write(line string) error {
	if m.transport == nil {
		return ErrNotInitialized
	}
	m.logger.Debug("tx", "line", line)
	if _, err := m.transport.Write([]byte(line)); err != nil {
		m.logger.Warn("write failed", "line", line, "error", err)
		return err
	}
	return nil
}

func (m *Modem) reject(name string, err error) Result {
	m.last = ""
	m.logger.Error("command rejected", "command", name, "error", err)
	return ResultError
}

func (m *Modem) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return m.atTimeout
	}
	return d
}

func (m *Modem) enter() {
	m.depth++
}

// leave closes an exchange. When the outermost one ends the receiver gets
// its idle callback; the caller's last response survives whatever the
// callback sends.
func (m *Modem) leave() {
	m.depth--
	if m.depth > 0 || m.idling {
		return
	}
	idler, ok := m.receiver.(Idler)
	if !ok {
		return
	}
	last := m.last
	m.idling = true
	idler.OnIdle()
	m.idling = false
	m.last = last
}
