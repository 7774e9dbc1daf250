package modem

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// TestTransport is a test helper that simulates the modem side of the wire.
//
// Writes are split into command lines at CR. Each complete line is recorded
// and passed to Respond, whose return value is queued for reading. A
// transport that was told to expect payload (ExpectPayload) collects the next
// n written bytes as raw payload instead and hands them to OnPayload.
// Reads never block: the engine polls Buffered like it does on hardware.
type TestTransport struct {
	mu sync.Mutex

	rx      bytes.Buffer
	partial []byte
	closed  bool

	// Respond produces the reply to a written command line, CR excluded.
	// A nil Respond or an empty reply leaves the line unanswered.
	Respond func(line string) string
	// OnPayload produces the reply once an expected payload is complete.
	OnPayload func(payload []byte) string

	written  []string
	payload  []byte
	want     int
	payloads [][]byte
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{}
}

// Reply builds a response string from lines, terminating each with CRLF.
func Reply(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	return b.String()
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}

	var replies []func() string
	for _, b := range p {
		if t.want > 0 {
			t.payload = append(t.payload, b)
			t.want--
			if t.want == 0 {
				done := t.payload
				t.payloads = append(t.payloads, done)
				t.payload = nil
				if cb := t.OnPayload; cb != nil {
					replies = append(replies, func() string { return cb(done) })
				}
			}
			continue
		}
		if b == '\r' {
			line := string(t.partial)
			t.partial = t.partial[:0]
			t.written = append(t.written, line)
			if cb := t.Respond; cb != nil {
				replies = append(replies, func() string { return cb(line) })
			}
			continue
		}
		t.partial = append(t.partial, b)
	}
	t.mu.Unlock()

	// Responders may call back into the transport, e.g. ExpectPayload.
	for _, r := range replies {
		t.SendData(r())
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rx.Len() == 0 {
		if t.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	return t.rx.Read(p)
}

func (t *TestTransport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rx.Len()
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	if data == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.rx.WriteString(data)
	}
}

// ExpectPayload makes the next n written bytes raw payload.
func (t *TestTransport) ExpectPayload(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.want = n
	t.payload = make([]byte, 0, n)
}

// Written returns the command lines written so far, CR excluded.
func (t *TestTransport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.written...)
}

// Count returns how many times line was written.
func (t *TestTransport) Count(line string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.written {
		if w == line {
			n++
		}
	}
	return n
}

// Payloads returns the raw payloads received so far.
func (t *TestTransport) Payloads() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.payloads...)
}

// Dialer returns a Dialer that hands out this transport.
func (t *TestTransport) Dialer() Dialer {
	return DialerFunc(func(ctx context.Context) (Transport, error) {
		return t, nil
	})
}

// FakeClock is a Clock whose time only moves when Sleep or Advance is
// called, so timeouts elapse instantly and deterministically in tests.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  time.Duration
	sleeps []time.Duration
	// Record keeps every Sleep duration when set, for backoff assertions.
	Record bool
}

// NewFakeClock returns a FakeClock starting at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	if c.Record {
		c.sleeps = append(c.sleeps, d)
	}
}

// Advance moves the clock forward without counting as a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Slept returns the total duration passed to Sleep.
func (c *FakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

// Sleeps returns the recorded Sleep durations.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
