package transport

import "errors"

// Error kinds. Transport public operations never panic across the API
// boundary; these errors are either returned to the caller (wrapped with
// %w) or logged, and are never surfaced as panics.
var (
	// ErrConfig is returned from New when the configuration fails validation.
	ErrConfig = errors.New("transport: invalid configuration")

	// ErrBind is returned by OpenInputChannel when an Acceptor's listening
	// socket cannot bind.
	ErrBind = errors.New("transport: bind failed")

	// ErrConnect names an outbound connect failure. No operation returns it:
	// the Connector logs the dial error itself and retries until cancelled.
	ErrConnect = errors.New("transport: connect failed")

	// ErrPeerClosed marks an EOF or connection-reset observed during a read
	// or write on an established Connection.
	ErrPeerClosed = errors.New("transport: peer closed connection")

	// ErrBadFrame marks a frame whose declared length is out of the
	// permitted range, or a short read while parsing one.
	ErrBadFrame = errors.New("transport: malformed frame")

	// ErrProtocol marks an RTCP message that is not a valid event for the
	// Connection's current state.
	ErrProtocol = errors.New("transport: protocol violation")

	// ErrNotConnected is returned by Send when the target locator has no
	// bound output Connection yet.
	ErrNotConnected = errors.New("transport: locator not connected")

	// ErrMessageTooLarge is returned by Send when the payload exceeds the
	// configured send buffer size.
	ErrMessageTooLarge = errors.New("transport: message exceeds send buffer size")

	// ErrUnsupportedLocator is returned for locators whose kind this
	// transport does not implement.
	ErrUnsupportedLocator = errors.New("transport: unsupported locator kind")

	// ErrClosed is returned by Connection.Send when the Connection has been
	// disabled.
	ErrClosed = errors.New("transport: closed")
)
