package transport

import "testing"

func TestLocatorEqual(t *testing.T) {
	a := NewLocator(127, 0, 0, 1, 5100, 7400)
	b := NewLocator(127, 0, 0, 1, 5100, 7400)
	c := NewLocator(127, 0, 0, 1, 5100, 7401)

	if !a.Equal(b) {
		t.Fatalf("expected %v to equal %v", a, b)
	}
	if a.Equal(c) {
		t.Fatalf("expected %v to differ from %v", a, c)
	}
}

func TestLocatorEqualPhysical(t *testing.T) {
	a := NewLocator(127, 0, 0, 1, 5100, 7400)
	b := NewLocator(127, 0, 0, 1, 5100, 7401)
	d := NewLocator(127, 0, 0, 1, 5200, 7400)

	if !a.EqualPhysical(b) {
		t.Fatalf("expected %v and %v to share a physical key", a, b)
	}
	if a.EqualPhysical(d) {
		t.Fatalf("expected %v and %v to differ in physical key", a, d)
	}
}

func TestLocatorIsAny(t *testing.T) {
	any := NewLocator(0, 0, 0, 0, 5100, 0)
	if !any.IsAny() {
		t.Fatalf("expected %v to be the wildcard address", any)
	}

	loopback := NewLocator(127, 0, 0, 1, 5100, 0)
	if loopback.IsAny() {
		t.Fatalf("did not expect %v to be the wildcard address", loopback)
	}
	if !loopback.IsLoopback() {
		t.Fatalf("expected %v to be loopback", loopback)
	}
}

func TestLocatorWithAddressAndLogicalPort(t *testing.T) {
	l := NewLocator(0, 0, 0, 0, 5100, 7400)
	withAddr := l.WithAddress([4]byte{10, 0, 0, 5})
	if withAddr.AddressString() != "10.0.0.5" {
		t.Fatalf("got address %s, want 10.0.0.5", withAddr.AddressString())
	}
	if withAddr.PhysicalPort != l.PhysicalPort || withAddr.LogicalPort != l.LogicalPort {
		t.Fatalf("WithAddress must not touch ports: got %+v", withAddr)
	}

	withPort := l.WithLogicalPort(7999)
	if withPort.LogicalPort != 7999 {
		t.Fatalf("got logical port %d, want 7999", withPort.LogicalPort)
	}
	if withPort.Address != l.Address {
		t.Fatalf("WithLogicalPort must not touch address: got %+v", withPort)
	}
}

func TestLocatorString(t *testing.T) {
	l := NewLocator(192, 168, 1, 10, 5100, 7400)
	want := "tcpv4:192.168.1.10:5100:7400"
	if got := l.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLocatorPhysicalKeyIgnoresLogicalPort(t *testing.T) {
	a := NewLocator(127, 0, 0, 1, 5100, 1)
	b := NewLocator(127, 0, 0, 1, 5100, 2)
	if a.physicalKey() != b.physicalKey() {
		t.Fatalf("expected equal physical keys, got %+v and %+v", a.physicalKey(), b.physicalKey())
	}
}
