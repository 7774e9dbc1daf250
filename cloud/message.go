package cloud

import (
	"fmt"
	"time"

	"i4.energy/across/dashcloud/at"
	"i4.energy/across/dashcloud/modem"
)

const (
	// MaxMessageSize is the capacity of the outgoing message buffer.
	MaxMessageSize = 4096
	// MaxTopics is the number of topics a message can carry.
	MaxTopics = 10
	// MaxTopicLength bounds a single topic.
	MaxTopicLength = 63
	// ChunkSize is the largest payload uploaded by one write command.
	ChunkSize = 128

	chunkTimeout = 10 * time.Second
	sendTimeout  = 3 * time.Minute
)

// message is the outgoing message: payload bytes plus topics. Once a send
// was attempted the content is stale and the next mutation starts over.
type message struct {
	buf       []byte
	topics    []string
	attempted bool
}

func (m *message) resetBuffer() {
	if m.attempted {
		m.buf = m.buf[:0]
		m.topics = m.topics[:0]
		m.attempted = false
	}
}

// Write appends p to the outgoing message. A write that does not fit
// entirely is rejected with ErrMessageFull and leaves the buffer unchanged.
func (c *Client) Write(p []byte) (int, error) {
	c.resetBuffer()
	if len(c.buf)+len(p) > MaxMessageSize {
		return 0, fmt.Errorf("%w: %d of %d bytes used, %d more", ErrMessageFull, len(c.buf), MaxMessageSize, len(p))
	}
	c.buf = append(c.buf, p...)
	return len(p), nil
}

// AttachTopic adds a topic to the outgoing message.
func (c *Client) AttachTopic(topic string) error {
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("%w: %d characters", ErrTopicTooLong, len(topic))
	}
	if err := validTopic(topic); err != nil {
		return err
	}
	c.resetBuffer()
	if len(c.topics) >= MaxTopics {
		return ErrTooManyTopics
	}
	c.topics = append(c.topics, topic)
	return nil
}

func validTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	for i := 0; i < len(topic); i++ {
		if b := topic[i]; b < 0x20 || b == 0x7f || b == '"' {
			return fmt.Errorf("%w: byte %#x at %d", ErrInvalidTopic, b, i)
		}
	}
	return nil
}

// Clear empties the outgoing message and its topics.
func (c *Client) Clear() {
	c.buf = c.buf[:0]
	c.topics = c.topics[:0]
	c.attempted = false
}

// Message returns a copy of the outgoing payload. After a send attempt it
// still reports the attempted content until the next mutation.
func (c *Client) Message() []byte {
	return append([]byte(nil), c.buf...)
}

// Topics returns a copy of the attached topics.
func (c *Client) Topics() []string {
	return append([]string(nil), c.topics...)
}

// SendMessage appends content and topics to the outgoing message and sends
// it. A stale message from an earlier attempt is discarded first.
func (c *Client) SendMessage(content []byte, topics ...string) error {
	c.resetBuffer()
	if _, err := c.Write(content); err != nil {
		c.attempted = true
		return err
	}
	for _, t := range topics {
		if err := c.AttachTopic(t); err != nil {
			c.attempted = true
			return err
		}
	}
	return c.Send()
}

// Send transmits the outgoing message: connect, reset the modem side
// message, set the topics, upload the payload in chunks and send. Any
// failure aborts the whole message. Afterwards the message counts as
// attempted and the next Write or AttachTopic starts a new one.
func (c *Client) Send() error {
	c.attempted = false
	defer func() { c.attempted = true }()

	if err := c.Connect(c.autoReconnect); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := c.m.Command(at.CmdMessageReset, 0, 0).Err(); err != nil {
		return fmt.Errorf("send: reset: %w", err)
	}
	for _, t := range c.topics {
		if err := c.m.Set(at.CmdTopic, t, 0, 0).Err(); err != nil {
			return fmt.Errorf("send: topic %q: %w", t, err)
		}
	}
	for off := 0; off < len(c.buf); off += ChunkSize {
		end := min(off+ChunkSize, len(c.buf))
		if err := c.writeChunk(c.buf[off:end]); err != nil {
			return fmt.Errorf("send: chunk at %d: %w", off, err)
		}
	}
	if err := c.m.Command(at.CmdMessageSend, sendTimeout, 0).Err(); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	c.logger.Info("message sent", "bytes", len(c.buf), "topics", len(c.topics))
	return nil
}

func (c *Client) writeChunk(chunk []byte) error {
	if err := c.m.StartSet(at.CmdMessageWrite); err != nil {
		return err
	}
	if err := c.m.AppendSetInt(len(chunk)); err != nil {
		c.m.AbortSet()
		return err
	}
	if res := c.m.IntermediateSet(at.DataMarker, chunkTimeout, 0); res != modem.ResultOK {
		c.m.AbortSet()
		return res.Err()
	}
	if err := c.m.DataWrite(chunk); err != nil {
		c.m.AbortSet()
		return err
	}
	return c.m.WaitSetComplete(chunkTimeout, 0).Err()
}
