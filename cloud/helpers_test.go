package cloud_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"i4.energy/across/dashcloud/cloud"
	"i4.energy/across/dashcloud/modem"
)

// fakeDash answers command lines like the modem co-processor. Lines
// without a scripted reply get a plain OK. A scripted sequence is consumed
// one reply per write; its last reply sticks.
type fakeDash struct {
	tr      *modem.TestTransport
	clock   *modem.FakeClock
	replies map[string][]string
	// chunkReply answers a completed message chunk.
	chunkReply func(n int) string
}

func newFakeDash() *fakeDash {
	f := &fakeDash{
		tr:      modem.NewTestTransport(),
		clock:   modem.NewFakeClock(),
		replies: map[string][]string{},
	}
	f.on("AT+HPROTO?", modem.Reply("+HPROTO: 3", "OK"))
	f.on("AT+HCONNECT", modem.Reply("+HCONNECT: 1", "OK"))
	f.tr.Respond = f.respond
	f.tr.OnPayload = func(p []byte) string {
		if f.chunkReply != nil {
			return f.chunkReply(len(p))
		}
		return modem.Reply("OK")
	}
	return f
}

func (f *fakeDash) on(line string, replies ...string) {
	f.replies[line] = replies
}

func (f *fakeDash) respond(line string) string {
	if q, ok := f.replies[line]; ok {
		r := q[0]
		if len(q) > 1 {
			f.replies[line] = q[1:]
		}
		if strings.HasPrefix(line, "AT+HMWRITE=") && strings.HasSuffix(r, "@") {
			f.expectChunk(line)
		}
		return r
	}
	if strings.HasPrefix(line, "AT+HMWRITE=") {
		f.expectChunk(line)
		return "\r\n@"
	}
	return modem.Reply("OK")
}

func (f *fakeDash) expectChunk(line string) {
	n, err := strconv.Atoi(strings.TrimPrefix(line, "AT+HMWRITE="))
	if err == nil {
		f.tr.ExpectPayload(n)
	}
}

// client builds a client over the fake device. The config's clock is
// replaced with the fake one.
func (f *fakeDash) client(t *testing.T, config cloud.Config) *cloud.Client {
	t.Helper()
	mc, err := modem.NewConfigBuilder().
		WithDialer(f.tr.Dialer()).
		WithClock(f.clock).
		Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), mc)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	config.Clock = f.clock
	return cloud.New(m, config)
}

// ready returns a client that already went through Begin.
func (f *fakeDash) ready(t *testing.T, config cloud.Config) *cloud.Client {
	t.Helper()
	c := f.client(t, config)
	require.NoError(t, c.Begin())
	require.Equal(t, cloud.StateReady, c.State())
	return c
}

// since returns the lines written after the first n.
func (f *fakeDash) since(n int) []string {
	return f.tr.Written()[n:]
}
