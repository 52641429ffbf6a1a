package spoof

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/arpframe"
	"github.com/projectdiscovery/kancut/pkg/types"
)

const (
	DefaultRestoreRepeats  = 3
	DefaultRestoreInterval = 200 * time.Millisecond
)

// Restore re-announces the real bindings of a session's target and gateway.
// It is never invoked by the session lifecycle, callers decide when to undo
// the poisoning.
func Restore(ctx context.Context, sender Sender, snapshot types.SessionSnapshot) error {
	targetIP, err := netip.ParseAddr(snapshot.TargetIP)
	if err != nil {
		return types.NewConfigurationError(err, "invalid target ip %q", snapshot.TargetIP)
	}
	gatewayIP, err := netip.ParseAddr(snapshot.GatewayIP)
	if err != nil {
		return types.NewConfigurationError(err, "invalid gateway ip %q", snapshot.GatewayIP)
	}
	targetMAC, err := net.ParseMAC(snapshot.TargetMAC)
	if err != nil {
		return types.NewConfigurationError(err, "invalid target mac %q", snapshot.TargetMAC)
	}
	gatewayMAC, err := net.ParseMAC(snapshot.GatewayMAC)
	if err != nil {
		return types.NewConfigurationError(err, "invalid gateway mac %q", snapshot.GatewayMAC)
	}

	frames := [][]byte{
		// target learns the real gateway, gateway learns the real target
		arpframe.Encode(arpframe.Reply(gatewayMAC, gatewayIP, targetMAC, targetIP)),
		arpframe.Encode(arpframe.Reply(targetMAC, targetIP, gatewayMAC, gatewayIP)),
	}

	var lastErr error
	sent := 0
	for i := 0; i < DefaultRestoreRepeats; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(DefaultRestoreInterval):
			}
		}
		for _, frame := range frames {
			if err := sender.Send(frame); err != nil {
				lastErr = err
				continue
			}
			sent++
		}
	}
	if sent == 0 {
		return types.NewNetworkError(lastErr, "could not restore %s <-> %s", targetIP, gatewayIP)
	}
	gologger.Verbose().Msgf("restored arp bindings of %s and %s (%d frames)", targetIP, gatewayIP, sent)
	return nil
}
