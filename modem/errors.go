package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if the Dialer returned no transport or if the Modem was
	// not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrReadTooLong is returned by RawRead for a length outside
	// 0..MaxRawRead. Nothing is read from the transport.
	ErrReadTooLong = errors.New("raw read too long")

	// ErrCommandTooLong is returned when a command name or set value does not
	// fit the modem's command buffer. Nothing is written to the transport.
	ErrCommandTooLong = errors.New("command too long")

	// ErrNoStagedSet is returned when a staged set operation is used without
	// a preceding StartSet.
	ErrNoStagedSet = errors.New("no staged set in progress")

	// ErrTimeout is returned when no terminal response arrived before the
	// deadline, after all retries.
	ErrTimeout = errors.New("command timeout")

	// ErrError is returned when the modem answered ERROR.
	ErrError = errors.New("modem returned ERROR")

	// ErrNoMatch is returned when the modem answered OK without the line the
	// caller expected.
	ErrNoMatch = errors.New("expected response not received")
)
