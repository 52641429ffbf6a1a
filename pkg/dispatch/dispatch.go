// Package dispatch routes ARP replies read from one link handle to the
// subscribers waiting on the replying IP address.
package dispatch

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/arpframe"
	"github.com/projectdiscovery/kancut/pkg/link"
)

// Reply is an observed ARP reply
type Reply struct {
	IP  netip.Addr
	MAC net.HardwareAddr
	At  time.Time
}

// Subscriber receives replies for the IP it was subscribed to.
// Deliver is called with the slot locked and must not block; it returns
// true when the subscriber is satisfied and must be removed.
type Subscriber interface {
	Deliver(r Reply) (done bool)
}

type slot struct {
	mu   sync.Mutex
	subs map[uint64]Subscriber
	// set once the slot left the table, subscribers must retry on a fresh one
	dead bool
}

// Dispatcher fans out replies from a single receive loop
type Dispatcher struct {
	handle *link.Handle
	// frames from this address were sent by us
	local net.HardwareAddr

	mu    sync.Mutex
	slots map[netip.Addr]*slot

	nextID  atomic.Uint64
	frames  atomic.Uint64
	replies atomic.Uint64
}

// New creates a dispatcher reading from h. Run must be called to start it.
func New(h *link.Handle) *Dispatcher {
	d := &Dispatcher{
		handle: h,
		slots:  make(map[netip.Addr]*slot),
	}
	if h != nil {
		d.local = h.HardwareAddr()
	}
	return d
}

// Run owns the handle's receive loop until ctx is cancelled or the handle closes
func (d *Dispatcher) Run(ctx context.Context) error {
	gologger.Debug().Msgf("dispatcher started on %s", d.handle.Name())
	defer gologger.Debug().Msgf("dispatcher on %s stopped (%d frames, %d replies)", d.handle.Name(), d.frames.Load(), d.replies.Load())
	return d.handle.ReceiveLoop(ctx, d.HandleFrame)
}

// HandleFrame decodes a raw frame and delivers it when it is an ARP reply
// sent by another host. Anything else is dropped, including the forged
// replies this host puts on the wire.
func (d *Dispatcher) HandleFrame(data []byte) {
	d.frames.Add(1)
	f, err := arpframe.Decode(data)
	if err != nil || f.Operation != arpframe.OperationReply {
		return
	}
	if d.local != nil && (bytes.Equal(f.SenderMAC, d.local) || bytes.Equal(f.EthSrc, d.local)) {
		return
	}
	d.replies.Add(1)
	d.deliver(Reply{IP: f.SenderIP, MAC: f.SenderMAC, At: time.Now()})
}

func (d *Dispatcher) deliver(r Reply) {
	d.mu.Lock()
	sl := d.slots[r.IP]
	d.mu.Unlock()
	if sl == nil {
		return
	}

	sl.mu.Lock()
	for id, sub := range sl.subs {
		if sub.Deliver(r) {
			delete(sl.subs, id)
		}
	}
	drop := d.retireLocked(sl)
	sl.mu.Unlock()

	if drop {
		d.dropSlot(r.IP, sl)
	}
}

// Subscribe registers sub for replies from ip. The returned cancel function
// removes the subscription and reports whether it was still registered,
// false meaning it was consumed by a delivery first.
func (d *Dispatcher) Subscribe(ip netip.Addr, sub Subscriber) (cancel func() bool) {
	ip = ip.Unmap()
	id := d.nextID.Add(1)
	for {
		sl := d.slotFor(ip)
		sl.mu.Lock()
		if sl.dead {
			sl.mu.Unlock()
			continue
		}
		sl.subs[id] = sub
		sl.mu.Unlock()
		break
	}
	return func() bool { return d.unsubscribe(ip, id) }
}

func (d *Dispatcher) unsubscribe(ip netip.Addr, id uint64) bool {
	d.mu.Lock()
	sl := d.slots[ip]
	d.mu.Unlock()
	if sl == nil {
		return false
	}

	sl.mu.Lock()
	_, ok := sl.subs[id]
	delete(sl.subs, id)
	drop := d.retireLocked(sl)
	sl.mu.Unlock()

	if drop {
		d.dropSlot(ip, sl)
	}
	return ok
}

// Subscriptions returns the number of IPs with at least one subscriber
func (d *Dispatcher) Subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.slots)
}

// Handle returns the link handle the dispatcher reads from
func (d *Dispatcher) Handle() *link.Handle {
	return d.handle
}

func (d *Dispatcher) slotFor(ip netip.Addr) *slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	sl, ok := d.slots[ip]
	if !ok {
		sl = &slot{subs: make(map[uint64]Subscriber)}
		d.slots[ip] = sl
	}
	return sl
}

func (d *Dispatcher) retireLocked(sl *slot) bool {
	if len(sl.subs) == 0 && !sl.dead {
		sl.dead = true
		return true
	}
	return false
}

func (d *Dispatcher) dropSlot(ip netip.Addr, sl *slot) {
	d.mu.Lock()
	if d.slots[ip] == sl {
		delete(d.slots, ip)
	}
	d.mu.Unlock()
}
