package common

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/projectdiscovery/kancut/pkg/types"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// ErrInterfaceNotFound is returned when no interface has the requested name
var ErrInterfaceNotFound = errors.New("interface not found")

// interfaceStats is swapped in tests
var interfaceStats = psnet.Interfaces

// GetInterfaces returns every non-loopback interface carrying at least one
// IPv4 address that is neither loopback nor link-local.
func GetInterfaces() ([]types.Interface, error) {
	stats, err := interfaceStats()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var interfaces []types.Interface
	for _, stat := range stats {
		if hasFlag(stat.Flags, "loopback") {
			continue
		}

		var prefixes []netip.Prefix
		for _, addr := range stat.Addrs {
			prefix, err := netip.ParsePrefix(addr.Addr)
			if err != nil {
				continue
			}
			ip := prefix.Addr().Unmap()
			if !ip.Is4() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			prefixes = append(prefixes, netip.PrefixFrom(ip, prefix.Bits()))
		}
		if len(prefixes) == 0 {
			continue
		}

		mac := stat.HardwareAddr
		if mac == "" {
			mac = "00:00:00:00:00:00"
		}
		interfaces = append(interfaces, types.Interface{
			Name:        stat.Name,
			Description: describe(stat.Name, prefixes),
			MAC:         mac,
			Addresses:   prefixes,
			Up:          hasFlag(stat.Flags, "up"),
		})
	}

	return interfaces, nil
}

// GetInterface returns the interface with the given name
func GetInterface(name string) (types.Interface, error) {
	interfaces, err := GetInterfaces()
	if err != nil {
		return types.Interface{}, err
	}
	for _, iface := range interfaces {
		if iface.Name == name {
			return iface, nil
		}
	}
	return types.Interface{}, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}

func describe(name string, prefixes []netip.Prefix) string {
	ips := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		ips = append(ips, p.Addr().String())
	}
	return fmt.Sprintf("%s - %s", name, strings.Join(ips, ", "))
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}
