package prescan

import (
	"net/netip"
	"sort"
)

// PrioritizedIP holds an address and its priority score
type PrioritizedIP struct {
	IP       netip.Addr
	Priority int
}

// Order returns hosts sorted by priority, high to low, ties by address.
// The input slice is not modified.
func Order(hosts []netip.Addr, prefix netip.Prefix) []netip.Addr {
	prioritized := make([]PrioritizedIP, 0, len(hosts))
	for _, ip := range hosts {
		prioritized = append(prioritized, PrioritizedIP{IP: ip, Priority: Priority(ip, prefix)})
	}
	sort.SliceStable(prioritized, func(i, j int) bool {
		if prioritized[i].Priority != prioritized[j].Priority {
			return prioritized[i].Priority > prioritized[j].Priority
		}
		return prioritized[i].IP.Less(prioritized[j].IP)
	})

	out := make([]netip.Addr, len(prioritized))
	for i, p := range prioritized {
		out[i] = p.IP
	}
	return out
}
