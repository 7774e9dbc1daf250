package modem

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to the
// modem co-processor.
//
// A Transport is assumed to be already connected and ready for use. Besides
// plain reads and writes it reports how many received bytes can be read
// without blocking, which is what the line reader polls on. Typical
// implementations include serial ports and in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser

	// Buffered returns the number of bytes that can be read without blocking.
	Buffered() int
}

// Dialer opens a Transport to the modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port or a test double) and is intended to be used during modem
// construction only. Once a Transport is obtained, the Dialer is no longer
// needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// Pin is a digital output line, used to drive the modem's reset input.
type Pin interface {
	High() error
	Low() error
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// SerialDialer opens the modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0".
	PortName string
	// BaudRate is used when Mode is nil. Defaults to 115200.
	BaudRate int
	// Mode overrides the full line settings.
	Mode *serial.Mode
}

// Dial opens the serial port and starts draining it into a receive buffer.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", d.PortName, err)
	}
	return NewSerialTransport(port), nil
}

// SerialTransport wraps a serial.Port. A background goroutine copies
// everything the port receives into a buffer so Buffered can answer without
// blocking. DTR doubles as the reset line.
type SerialTransport struct {
	port serial.Port

	mu  sync.Mutex
	rx  bytes.Buffer
	err error

	done chan struct{}
}

// NewSerialTransport starts draining port and returns the transport.
func NewSerialTransport(port serial.Port) *SerialTransport {
	t := &SerialTransport{
		port: port,
		done: make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *SerialTransport) drain() {
	defer close(t.done)
	chunk := make([]byte, 256)
	for {
		n, err := t.port.Read(chunk)
		t.mu.Lock()
		t.rx.Write(chunk[:n])
		if err != nil {
			t.err = err
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}

// Read returns buffered bytes. It does not block: with nothing buffered it
// returns 0 and the port's terminal error, if any.
func (t *SerialTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rx.Len() == 0 {
		return 0, t.err
	}
	return t.rx.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *SerialTransport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rx.Len()
}

// Close closes the port and waits for the drain goroutine to exit.
func (t *SerialTransport) Close() error {
	err := t.port.Close()
	<-t.done
	return err
}

// High releases the reset line.
func (t *SerialTransport) High() error {
	return t.port.SetDTR(true)
}

// Low asserts the reset line.
func (t *SerialTransport) Low() error {
	return t.port.SetDTR(false)
}
