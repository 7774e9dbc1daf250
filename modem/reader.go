package modem

import (
	"errors"
	"io"
	"time"

	"i4.energy/across/dashcloud/at"
)

// readByte reads exactly one byte from the transport. Callers check
// Buffered first.
func (m *Modem) readByte() (byte, error) {
	var b [1]byte
	n, err := m.transport.Read(b[:])
	if n == 1 {
		return b[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

// feed adds b to the line being assembled. It reports a completed, non-empty
// line. CR is ignored and LF terminates; bytes past MaxLineLength are
// discarded together with the rest of their line.
func (m *Modem) feed(b byte) (string, bool) {
	switch b {
	case '\r':
		return "", false
	case '\n':
		if m.overflow {
			m.overflow = false
			m.line = m.line[:0]
			m.logger.Warn("dropping line", "error", ErrLineTooLong)
			return "", false
		}
		if len(m.line) == 0 {
			return "", false
		}
		line := string(m.line)
		m.line = m.line[:0]
		m.logger.Debug("rx", "line", line)
		return line, true
	}
	if len(m.line) >= MaxLineLength {
		m.overflow = true
		return "", false
	}
	m.line = append(m.line, b)
	return "", false
}

// readLine returns the next response line, dispatching any notification
// lines on the way. It fails with ErrTimeout once timeout has elapsed since
// start with no complete line.
func (m *Modem) readLine(start time.Time, timeout time.Duration) (string, error) {
	for {
		line, urc, err := m.next(start, timeout)
		if err != nil {
			return "", err
		}
		if !urc {
			return line, nil
		}
	}
}

// next reads one complete line. Notification lines are dispatched and
// reported with urc set.
func (m *Modem) next(start time.Time, timeout time.Duration) (line string, urc bool, err error) {
	for {
		if m.transport.Buffered() == 0 {
			if m.clock.Now().Sub(start) >= timeout {
				return "", false, ErrTimeout
			}
			m.clock.Sleep(m.pollInterval)
			continue
		}
		b, err := m.readByte()
		if err != nil {
			return "", false, err
		}
		if line, ok := m.feed(b); ok {
			return line, m.dispatch(line), nil
		}
	}
}

// awaitMarker waits for the single marker byte at the start of a line.
// ERROR ends the wait; an OK before the marker means the modem finished the
// command without asking for payload.
func (m *Modem) awaitMarker(marker byte, timeout time.Duration) Result {
	start := m.clock.Now()
	for {
		if m.transport.Buffered() == 0 {
			if m.clock.Now().Sub(start) >= timeout {
				return ResultTimeout
			}
			m.clock.Sleep(m.pollInterval)
			continue
		}
		b, err := m.readByte()
		if err != nil {
			return ResultTimeout
		}
		if b == marker && len(m.line) == 0 && !m.overflow {
			m.logger.Debug("rx marker", "marker", string(marker))
			return ResultOK
		}
		line, ok := m.feed(b)
		if !ok || m.dispatch(line) {
			continue
		}
		switch line {
		case at.ERROR:
			return ResultError
		case at.OK:
			return ResultNoMatch
		default:
			m.last = line
		}
	}
}

// dispatch hands a notification line to the receiver and reports whether
// the line was one. Malformed notifications are consumed and dropped.
func (m *Modem) dispatch(line string) bool {
	if !at.IsURC(line) {
		return false
	}
	u, err := at.ParseURC(line)
	if err != nil {
		if errors.Is(err, at.ErrMalformed) {
			m.logger.Debug("dropping malformed notification", "line", line, "error", err)
		}
		return true
	}
	if m.receiver != nil {
		m.receiver.OnURC(u)
	}
	return true
}
