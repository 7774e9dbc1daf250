package cloud

import "errors"

var (
	// ErrUnavailable is returned when the modem state forbids the operation,
	// e.g. querying signal strength while the modem is shut down or the
	// session was explicitly disconnected.
	ErrUnavailable = errors.New("modem unavailable")

	// ErrPowerUpFailed is returned when the configured ceiling of power-up
	// attempts is exhausted.
	ErrPowerUpFailed = errors.New("modem power-up failed")

	// ErrNotConnected is returned when the modem answered a connect request
	// with a status other than connected.
	ErrNotConnected = errors.New("cloud not connected")

	// ErrUnexpectedResponse is returned when a reply line does not have the
	// documented layout.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrMessageFull is returned when a write would overflow the message
	// buffer. Nothing is written.
	ErrMessageFull = errors.New("message buffer full")

	// ErrTooManyTopics is returned when a topic is attached to a message that
	// already carries the maximum number of topics.
	ErrTooManyTopics = errors.New("too many topics")

	// ErrTopicTooLong is returned for topics longer than MaxTopicLength.
	ErrTopicTooLong = errors.New("topic too long")

	// ErrInvalidTopic is returned for empty topics and topics containing
	// characters that would break command framing.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrInvalidColor is returned for RGB values that are not six hex digits.
	ErrInvalidColor = errors.New("invalid color")
)
