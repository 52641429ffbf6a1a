package dispatch

import (
	"net"
	"net/netip"

	mapsutil "github.com/projectdiscovery/utils/maps"
)

// Waiter is a one-shot subscriber, it takes the first reply and is removed
type Waiter struct {
	ch chan Reply
}

// NewWaiter creates a waiter
func NewWaiter() *Waiter {
	return &Waiter{ch: make(chan Reply, 1)}
}

// Deliver implements Subscriber
func (w *Waiter) Deliver(r Reply) bool {
	select {
	case w.ch <- r:
	default:
	}
	return true
}

// C returns the channel the reply is delivered on
func (w *Waiter) C() <-chan Reply {
	return w.ch
}

// Collector records the first MAC seen for every IP it is subscribed to.
// It stays registered until its subscriptions are cancelled.
type Collector struct {
	// MACs are kept in their string form, the map needs comparable values
	seen *mapsutil.SyncLockMap[netip.Addr, string]
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{seen: mapsutil.NewSyncLockMap[netip.Addr, string]()}
}

// Deliver implements Subscriber. Deliveries for one IP are serialized by its
// slot, so the check and the store cannot interleave.
func (c *Collector) Deliver(r Reply) bool {
	if _, ok := c.seen.Get(r.IP); !ok {
		_ = c.seen.Set(r.IP, r.MAC.String())
	}
	return false
}

// Seen returns a copy of every IP to MAC binding collected so far
func (c *Collector) Seen() map[netip.Addr]net.HardwareAddr {
	all := c.seen.GetAll()
	out := make(map[netip.Addr]net.HardwareAddr, len(all))
	for ip, mac := range all {
		if hw, err := net.ParseMAC(mac); err == nil {
			out[ip] = hw
		}
	}
	return out
}
