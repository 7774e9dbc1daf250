package modem_test

import (
	"bytes"
	"strconv"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/dashcloud/modem"
)

// MockSequenceBuilder scripts a MockTransport: every expected write queues
// its reply into a receive buffer that Buffered and Read serve from.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	rx        *bytes.Buffer
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	rx := &bytes.Buffer{}
	transport.EXPECT().Buffered().DoAndReturn(func() int {
		return rx.Len()
	}).AnyTimes()
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		return rx.Read(p)
	}).AnyTimes()
	return &MockSequenceBuilder{
		transport: transport,
		rx:        rx,
		calls:     []any{},
	}
}

// Exchange expects line followed by CR and answers with reply.
func (b *MockSequenceBuilder) Exchange(line, reply string) *MockSequenceBuilder {
	wire := []byte(line + "\r")
	b.calls = append(b.calls,
		b.transport.EXPECT().Write(wire).DoAndReturn(func(p []byte) (int, error) {
			b.rx.WriteString(reply)
			return len(p), nil
		}),
	)
	return b
}

// Silent expects line but never answers it.
func (b *MockSequenceBuilder) Silent(line string) *MockSequenceBuilder {
	return b.Exchange(line, "")
}

// AT is the bare resync command.
func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Exchange("AT", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Protocol(version int) *MockSequenceBuilder {
	return b.Exchange("AT+HPROTO?", "\r\n+HPROTO: "+strconv.Itoa(version)+"\r\n\r\nOK\r\n")
}

// Payload expects raw bytes and answers with reply.
func (b *MockSequenceBuilder) Payload(data []byte, reply string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write(data).DoAndReturn(func(p []byte) (int, error) {
			b.rx.WriteString(reply)
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
