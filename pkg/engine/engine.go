// Package engine is the command surface of kancut. An Engine owns every
// shared resource: the link handles, one reply dispatcher per interface and
// the session registry.
package engine

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/dispatch"
	"github.com/projectdiscovery/kancut/pkg/enrich"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/arp"
	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/common"
	"github.com/projectdiscovery/kancut/pkg/spoof"
	"github.com/projectdiscovery/kancut/pkg/types"
	syncutil "github.com/projectdiscovery/utils/sync"
)

// ErrEngineClosed is returned by every operation after Close
var ErrEngineClosed = types.NewSystemError(nil, "engine closed")

// endpoint is the per-interface receive side: one dispatcher owning the
// handle's receive loop, and the resolver built on it
type endpoint struct {
	handle     *link.Handle
	dispatcher *dispatch.Dispatcher
	resolver   *arp.Resolver
}

// Engine runs scans and spoofing sessions
type Engine struct {
	options  Options
	links    *link.Manager
	registry *spoof.Registry
	enricher *enrich.Enricher

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	mu        sync.Mutex
	endpoints map[string]*endpoint
	closed    bool
}

// New creates an engine. No device is opened until an operation needs one.
func New(options Options) (*Engine, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	opener := options.Opener
	if opener == nil {
		var err error
		if opener, err = link.OpenerFor(options.Backend); err != nil {
			return nil, err
		}
	}
	if options.Interfaces == nil {
		options.Interfaces = common.GetInterfaces
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = 5 * time.Second
	}
	if options.SpoofParallelism <= 0 {
		options.SpoofParallelism = 8
	}

	e := &Engine{
		options:   options,
		links:     link.NewManager(options.Lookup, opener),
		registry:  spoof.NewRegistry(),
		endpoints: make(map[string]*endpoint),
	}
	if options.Enrich {
		e.enricher = enrich.New(options.EnrichOptions)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// ListInterfaces enumerates the up-to-date local interfaces
func (e *Engine) ListInterfaces() ([]types.Interface, error) {
	interfaces, err := e.options.Interfaces()
	if err != nil {
		return nil, types.NewInterfaceError(err, "could not enumerate interfaces")
	}
	if e.options.Opener == nil && (e.options.Backend == "" || e.options.Backend == link.BackendPcap) {
		descriptions := link.PcapDescriptions()
		for i := range interfaces {
			if d := descriptions[interfaces[i].Name]; d != "" {
				interfaces[i].Description = d
			}
		}
	}
	return interfaces, nil
}

// ScanNetwork sweeps the subnet of iface
func (e *Engine) ScanNetwork(ctx context.Context, iface string) ([]types.Device, error) {
	ep, release, err := e.acquire(iface)
	if err != nil {
		return nil, err
	}
	defer release()

	options := arp.ScanOptions{
		Window:      e.options.SweepWindow,
		BurstSize:   e.options.BurstSize,
		MaxHosts:    e.options.MaxHosts,
		SystemCache: e.options.SystemCache,
	}
	if e.enricher != nil {
		options.Enricher = e.enricher
	}
	gologger.Info().Msgf("scanning %s on %s", ep.handle.Prefix().Masked(), iface)
	devices, err := arp.NewScanner(ep.dispatcher, options).Scan(ctx)
	if err != nil {
		return nil, err
	}
	gologger.Info().Msgf("found %d devices on %s", len(devices), iface)
	return devices, nil
}

// StartSpoofing starts poisoning target and gateway through iface and
// returns the session id
func (e *Engine) StartSpoofing(ctx context.Context, target, gateway, iface string) (string, error) {
	targetIP, err := parseIPv4("target", target)
	if err != nil {
		return "", err
	}
	gatewayIP, err := parseIPv4("gateway", gateway)
	if err != nil {
		return "", err
	}
	if targetIP == gatewayIP {
		return "", types.NewConfigurationError(nil, "target and gateway are both %s", targetIP)
	}
	return e.startSession(ctx, targetIP, gatewayIP, iface)
}

func (e *Engine) startSession(ctx context.Context, targetIP, gatewayIP netip.Addr, iface string) (string, error) {
	ep, release, err := e.acquire(iface)
	if err != nil {
		return "", err
	}

	session, err := spoof.Start(ctx, e.registry, ep.resolver, ep.handle, spoof.Config{
		TargetIP:    targetIP,
		GatewayIP:   gatewayIP,
		Interface:   iface,
		AttackerMAC: ep.handle.HardwareAddr(),
		Period:      e.options.SpoofPeriod,
		MaxFailures: e.options.MaxFailures,
		OnExit: func(s *spoof.Session) {
			release()
			kind := types.EventStopped
			if s.Err() != nil {
				kind = types.EventFailed
			}
			e.record(kind, s.Snapshot(), s.Err())
		},
	})
	if err != nil {
		release()
		e.record(types.EventFailed, types.SessionSnapshot{
			TargetIP:  targetIP.String(),
			GatewayIP: gatewayIP.String(),
			Interface: iface,
		}, err)
		return "", err
	}
	e.record(types.EventStarted, session.Snapshot(), nil)
	return session.ID(), nil
}

func (e *Engine) record(kind types.EventType, snapshot types.SessionSnapshot, err error) {
	if e.options.Events != nil {
		e.options.Events.Record(types.NewSessionEvent(kind, snapshot, err))
	}
}

// StopSpoofing stops a session and waits for its loop to exit. It returns
// false for unknown or already stopping sessions.
func (e *Engine) StopSpoofing(id string) bool {
	session, ok := e.registry.Get(id)
	if !ok || !session.Stop() {
		return false
	}
	select {
	case <-session.Done():
	case <-time.After(e.options.StopTimeout):
		gologger.Warning().Msgf("session %s did not stop within %s", id, e.options.StopTimeout)
	}
	gologger.Info().Msgf("session %s stopped", id)
	return true
}

// ActiveSessions returns snapshots of every registered session
func (e *Engine) ActiveSessions() []types.SessionSnapshot {
	return e.registry.List()
}

// StartSpoofAll starts one session per device, except the gateway itself.
// Every start is independent: failures are reported per device.
func (e *Engine) StartSpoofAll(ctx context.Context, devices []types.Device, gateway, iface string) (types.SpoofAllResult, error) {
	result := types.SpoofAllResult{SessionIDs: []string{}}
	gatewayIP, err := parseIPv4("gateway", gateway)
	if err != nil {
		return result, err
	}
	ep, release, err := e.acquire(iface)
	if err != nil {
		return result, err
	}
	defer release()
	self := ep.handle.Addr()

	awg, err := syncutil.New(syncutil.WithSize(e.options.SpoofParallelism))
	if err != nil {
		return result, types.NewSystemError(err, "failed to create adaptive waitgroup")
	}

	type outcome struct {
		ip  string
		id  string
		err error
	}
	outcomes := make([]outcome, len(devices))
	for i, device := range devices {
		outcomes[i].ip = device.IP
		targetIP, err := parseIPv4("device", device.IP)
		if err != nil {
			outcomes[i].err = err
			continue
		}
		if targetIP == gatewayIP || targetIP == self {
			outcomes[i].ip = ""
			continue
		}

		awg.Add()
		go func(o *outcome, target netip.Addr) {
			defer awg.Done()
			o.id, o.err = e.startSession(ctx, target, gatewayIP, iface)
		}(&outcomes[i], targetIP)
	}
	awg.Wait()

	for _, o := range outcomes {
		switch {
		case o.ip == "":
		case o.err != nil:
			gologger.Error().Msgf("could not spoof %s: %s", o.ip, o.err)
			result.Failures = append(result.Failures, types.DeviceFailure{IP: o.ip, Error: types.AsError(o.err)})
		default:
			result.SessionIDs = append(result.SessionIDs, o.id)
		}
	}
	gologger.Info().Msgf("spoofing %d of %d devices", len(result.SessionIDs), len(devices))
	return result, nil
}

// Restore re-announces the real bindings recorded in a session snapshot
func (e *Engine) Restore(ctx context.Context, snapshot types.SessionSnapshot) error {
	ep, release, err := e.acquire(snapshot.Interface)
	if err != nil {
		return err
	}
	defer release()
	if err := spoof.Restore(ctx, ep.handle, snapshot); err != nil {
		return err
	}
	e.record(types.EventRestored, snapshot, nil)
	return nil
}

// Close stops every session, then the dispatchers, then releases all handles
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	sessions := e.registry.StopAll()
	deadline := time.After(e.options.StopTimeout)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			gologger.Warning().Msgf("session %s did not stop in time", s.ID())
		}
	}

	e.cancel()
	e.loops.Wait()
	e.links.Close()
	gologger.Verbose().Msgf("engine closed")
}

// acquire returns the running endpoint of iface with an extra handle
// reference the caller must release
func (e *Engine) acquire(iface string) (*endpoint, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil, ErrEngineClosed
	}

	ep, ok := e.endpoints[iface]
	if !ok || ep.handle.Closed() {
		h, err := e.links.Open(iface)
		if err != nil {
			return nil, nil, err
		}
		ep = &endpoint{
			handle:     h,
			dispatcher: dispatch.New(h),
		}
		ep.resolver = arp.NewResolver(ep.dispatcher, e.options.ResolveAttempts, e.options.ResolveTimeout)
		e.endpoints[iface] = ep
		e.loops.Add(1)
		go e.run(iface, ep)
	}

	h, err := e.links.Open(iface)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return ep, func() { once.Do(h.Close) }, nil
}

func (e *Engine) run(iface string, ep *endpoint) {
	defer e.loops.Done()

	if err := ep.dispatcher.Run(e.ctx); err != nil {
		gologger.Warning().Msgf("dispatcher on %s exited: %s", iface, err)
	}

	e.mu.Lock()
	if e.endpoints[iface] == ep {
		delete(e.endpoints, iface)
	}
	e.mu.Unlock()
	ep.handle.Close()
}

// Refs returns the handle reference count of iface, for diagnostics
func (e *Engine) Refs(iface string) int {
	return e.links.Refs(iface)
}

func parseIPv4(what, s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, types.NewConfigurationError(err, "invalid %s ip %q", what, s)
	}
	ip = ip.Unmap()
	if !ip.Is4() {
		return netip.Addr{}, types.NewConfigurationError(nil, "%s ip %q is not ipv4", what, s)
	}
	return ip, nil
}
