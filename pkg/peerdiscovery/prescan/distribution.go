package prescan

import (
	"net/netip"

	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/common"
)

// DistributionPattern maps a last-octet range to a priority tier
type DistributionPattern struct {
	RangeStart int
	RangeEnd   int
	Priority   int
}

// Priority tiers
const (
	PriorityTier1 = 100 // .1, .254
	PriorityTier2 = 90  // .2-.5, .250-.253
	PriorityTier3 = 80  // .6-.10
	PriorityTier4 = 70  // .50, .100, .150
	PriorityTier5 = 50  // .51-.99, .101-.149, .151-.200
	PriorityTier6 = 20  // .11-.49, .201-.249
	PriorityTier7 = 0   // network, broadcast
)

var patterns = []DistributionPattern{
	{RangeStart: 1, RangeEnd: 1, Priority: PriorityTier1},
	{RangeStart: 254, RangeEnd: 254, Priority: PriorityTier1},
	{RangeStart: 2, RangeEnd: 5, Priority: PriorityTier2},
	{RangeStart: 250, RangeEnd: 253, Priority: PriorityTier2},
	{RangeStart: 6, RangeEnd: 10, Priority: PriorityTier3},
	{RangeStart: 50, RangeEnd: 50, Priority: PriorityTier4},
	{RangeStart: 100, RangeEnd: 100, Priority: PriorityTier4},
	{RangeStart: 150, RangeEnd: 150, Priority: PriorityTier4},
	{RangeStart: 51, RangeEnd: 99, Priority: PriorityTier5},
	{RangeStart: 101, RangeEnd: 149, Priority: PriorityTier5},
	{RangeStart: 151, RangeEnd: 200, Priority: PriorityTier5},
	{RangeStart: 11, RangeEnd: 49, Priority: PriorityTier6},
	{RangeStart: 201, RangeEnd: 249, Priority: PriorityTier6},
}

// Priority scores ip within prefix. Higher means more likely to be online.
// Subnets other than /24 are scored on the last octet as well.
func Priority(ip netip.Addr, prefix netip.Prefix) int {
	ip = ip.Unmap()
	if !ip.Is4() {
		return PriorityTier6
	}
	if prefix.IsValid() && common.IsNetworkOrBroadcast(ip, prefix) {
		return PriorityTier7
	}

	last := int(ip.As4()[3])
	for _, p := range patterns {
		if last >= p.RangeStart && last <= p.RangeEnd {
			return p.Priority
		}
	}
	// .0 and .255 inside larger subnets are ordinary hosts
	return PriorityTier6
}
