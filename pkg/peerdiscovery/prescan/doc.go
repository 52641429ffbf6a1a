// Package prescan orders sweep candidates so that the addresses most likely
// to be online are probed first. Scoring follows common allocation patterns
// on the last octet: gateways and routers, then reserved infrastructure,
// then the early and main DHCP pools, then the long tail.
//
// Priority tiers (0-100):
//   - 100: .1, .254 (routers/gateways)
//   - 90:  .2-.5, .250-.253 (reserved infrastructure)
//   - 80:  .6-.10 (early DHCP)
//   - 70:  .50, .100, .150 (DHCP allocation peaks)
//   - 50:  .51-.99, .101-.149, .151-.200 (main DHCP pool)
//   - 20:  .11-.49, .201-.249 (long-tail)
//   - 0:   network and broadcast addresses
//
// Example:
//
//	ordered := prescan.Order(hosts, netip.MustParsePrefix("192.168.1.0/24"))
package prescan
