package common

import (
	"fmt"
	"net/netip"

	"github.com/projectdiscovery/mapcidr"
)

// IsNetworkOrBroadcast checks if an IPv4 address is the network or broadcast
// address of the prefix.
func IsNetworkOrBroadcast(ip netip.Addr, prefix netip.Prefix) bool {
	if !ip.Is4() || !prefix.Addr().Is4() {
		return false
	}
	network := prefix.Masked().Addr()
	if ip == network {
		return true
	}
	return ip == Broadcast(prefix)
}

// Broadcast returns the directed broadcast address of an IPv4 prefix
func Broadcast(prefix netip.Prefix) netip.Addr {
	b := prefix.Masked().Addr().As4()
	bits := prefix.Bits()
	for i := 0; i < 4; i++ {
		hostBits := 32 - bits - (3-i)*8
		switch {
		case hostBits >= 8:
			b[i] = 0xff
		case hostBits > 0:
			b[i] |= byte(0xff >> (8 - hostBits))
		}
	}
	return netip.AddrFrom4(b)
}

// HostAddresses expands an IPv4 prefix into its usable host addresses,
// dropping the network and broadcast addresses.
func HostAddresses(prefix netip.Prefix) ([]netip.Addr, error) {
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("prefix %s is not ipv4", prefix)
	}
	cidr := prefix.Masked().String()
	ips, err := mapcidr.IPAddresses(cidr)
	if err != nil {
		return nil, fmt.Errorf("failed to expand CIDR %s: %w", cidr, err)
	}

	hosts := make([]netip.Addr, 0, len(ips))
	for _, ipStr := range ips {
		ip, err := netip.ParseAddr(ipStr)
		if err != nil {
			continue
		}
		ip = ip.Unmap()
		if IsNetworkOrBroadcast(ip, prefix) {
			continue
		}
		hosts = append(hosts, ip)
	}
	return hosts, nil
}

// HostCount is the number of usable host addresses in an IPv4 prefix
func HostCount(prefix netip.Prefix) uint64 {
	hostBits := 32 - prefix.Bits()
	if hostBits < 2 {
		return 0
	}
	return (uint64(1) << hostBits) - 2
}

// Narrow24 returns the /24 that contains addr
func Narrow24(addr netip.Addr) netip.Prefix {
	p, _ := addr.Prefix(24)
	return p
}
