package transport

import "context"

// Receiver is the opaque application-layer consumer of decoded RTPS
// payloads for one logical port on one Connection. The transport treats
// the payload as an opaque byte buffer; CDR deserialization of RTPS
// submessages happens above this layer.
type Receiver func(ctx context.Context, locator Locator, payload []byte)

// InterfaceProvider enumerates the host's IPv4 network interfaces. It is a
// pluggable service so tests can substitute a fixed interface set instead
// of querying the real host.
type InterfaceProvider interface {
	// IPv4Addresses returns every non-loopback IPv4 address bound to a
	// local interface, as dotted-quad strings.
	IPv4Addresses() ([]string, error)
}
