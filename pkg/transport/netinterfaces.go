package transport

import "net"

// systemInterfaceProvider enumerates the host's real IPv4 interfaces via
// the standard library (see DESIGN.md for why no third-party library is
// used here).
type systemInterfaceProvider struct{}

// NewSystemInterfaceProvider returns an InterfaceProvider backed by the
// host's real network interfaces.
func NewSystemInterfaceProvider() InterfaceProvider {
	return systemInterfaceProvider{}
}

func (systemInterfaceProvider) IPv4Addresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		out = append(out, ip4.String())
	}
	return out, nil
}

// StaticInterfaceProvider is a fixed interface set, used by tests that need
// NormalizeLocator/ShrinkLocatorLists to behave deterministically without
// depending on the host's actual network configuration.
type StaticInterfaceProvider []string

func (p StaticInterfaceProvider) IPv4Addresses() ([]string, error) {
	return []string(p), nil
}
