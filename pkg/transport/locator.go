package transport

import "fmt"

// LocatorKind identifies the wire protocol a Locator addresses.
type LocatorKind uint8

// LocatorKindTCPv4 is the only kind this transport implements.
const LocatorKindTCPv4 LocatorKind = 1

// Locator identifies a wire endpoint at the RTPS level: kind, IPv4 address,
// physical port (the TCP port actually bound or connected), and logical
// port (the RTCP multiplex key carried in the frame header; 0 is reserved
// for RTCP control traffic).
type Locator struct {
	Kind         LocatorKind
	Address      [4]byte
	PhysicalPort uint16
	LogicalPort  uint16
}

// anyAddress is the wildcard IPv4 address (0.0.0.0), expanded by
// NormalizeLocator into one locator per enumerated interface.
var anyAddress = [4]byte{0, 0, 0, 0}

// loopbackAddress is 127.0.0.1.
var loopbackAddress = [4]byte{127, 0, 0, 1}

// NewLocator builds a TCPv4 locator from a dotted-quad address.
func NewLocator(a, b, c, d byte, physicalPort, logicalPort uint16) Locator {
	return Locator{
		Kind:         LocatorKindTCPv4,
		Address:      [4]byte{a, b, c, d},
		PhysicalPort: physicalPort,
		LogicalPort:  logicalPort,
	}
}

// IsAny reports whether the locator's address is the wildcard 0.0.0.0.
func (l Locator) IsAny() bool {
	return l.Address == anyAddress
}

// IsLoopback reports whether the locator's address is 127.0.0.1.
func (l Locator) IsLoopback() bool {
	return l.Address == loopbackAddress
}

// WithAddress returns a copy of l with the address replaced, ports untouched.
func (l Locator) WithAddress(addr [4]byte) Locator {
	l.Address = addr
	return l
}

// WithLogicalPort returns a copy of l with the logical port replaced.
func (l Locator) WithLogicalPort(port uint16) Locator {
	l.LogicalPort = port
	return l
}

// Equal is the full componentwise comparator.
func (l Locator) Equal(other Locator) bool {
	return l.Kind == other.Kind &&
		l.Address == other.Address &&
		l.PhysicalPort == other.PhysicalPort &&
		l.LogicalPort == other.LogicalPort
}

// EqualPhysical ignores logical port; it is used to match a Connection by
// (IP, physical port) alone, e.g. to find the at-most-one OUTPUT Connection
// for a remote endpoint regardless of which logical port triggered it.
func (l Locator) EqualPhysical(other Locator) bool {
	return l.Kind == other.Kind &&
		l.Address == other.Address &&
		l.PhysicalPort == other.PhysicalPort
}

// physicalKey identifies a (kind, address, physical port) triple, used as a
// map key for the at-most-one-OUTPUT-connection-per-endpoint invariant.
type physicalKey struct {
	kind         LocatorKind
	address      [4]byte
	physicalPort uint16
}

func (l Locator) physicalKey() physicalKey {
	return physicalKey{kind: l.Kind, address: l.Address, physicalPort: l.PhysicalPort}
}

// String renders a locator as "kind:a.b.c.d:physical:logical" for logging.
func (l Locator) String() string {
	return fmt.Sprintf("tcpv4:%d.%d.%d.%d:%d:%d",
		l.Address[0], l.Address[1], l.Address[2], l.Address[3],
		l.PhysicalPort, l.LogicalPort)
}

// AddressString renders only the dotted-quad address.
func (l Locator) AddressString() string {
	return fmt.Sprintf("%d.%d.%d.%d", l.Address[0], l.Address[1], l.Address[2], l.Address[3])
}
