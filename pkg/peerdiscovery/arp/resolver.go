package arp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/arpframe"
	"github.com/projectdiscovery/kancut/pkg/dispatch"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/types"
)

const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = time.Second
)

// Resolver maps single IPv4 addresses to hardware addresses
type Resolver struct {
	dispatcher *dispatch.Dispatcher
	attempts   int
	timeout    time.Duration
}

// NewResolver creates a resolver. Non-positive values take the defaults.
func NewResolver(d *dispatch.Dispatcher, attempts int, timeout time.Duration) *Resolver {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Resolver{dispatcher: d, attempts: attempts, timeout: timeout}
}

// Resolve sends a request for ip and waits for the first reply, retrying on
// timeout. The waiter is removed on every return path.
func (r *Resolver) Resolve(ctx context.Context, ip netip.Addr) (net.HardwareAddr, error) {
	ip = ip.Unmap()
	h := r.dispatcher.Handle()
	if ip == h.Addr() {
		return h.HardwareAddr(), nil
	}

	waiter := dispatch.NewWaiter()
	cancel := r.dispatcher.Subscribe(ip, waiter)
	defer cancel()

	request := arpframe.Encode(arpframe.Request(h.HardwareAddr(), h.Addr(), ip))
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := h.Send(request); err != nil {
			if errors.Is(err, link.ErrClosed) {
				return nil, err
			}
			gologger.Debug().Msgf("resolve %s: attempt %d send failed: %s", ip, attempt, err)
		}

		timer := time.NewTimer(r.timeout)
		select {
		case reply := <-waiter.C():
			timer.Stop()
			gologger.Debug().Msgf("resolved %s to %s after %d attempt(s)", ip, reply.MAC, attempt)
			return reply.MAC, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	// a reply may have landed between the last timeout and now
	select {
	case reply := <-waiter.C():
		return reply.MAC, nil
	default:
	}
	return nil, types.NewNetworkError(nil, "host unreachable: no ARP reply from %s", ip)
}
