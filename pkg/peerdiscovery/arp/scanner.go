package arp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sort"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/arpframe"
	"github.com/projectdiscovery/kancut/pkg/dispatch"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/common"
	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/prescan"
	"github.com/projectdiscovery/kancut/pkg/types"
	syncutil "github.com/projectdiscovery/utils/sync"
)

const (
	DefaultWindow     = 3 * time.Second
	DefaultBurstSize  = 64
	DefaultBurstPause = 5 * time.Millisecond
	// DefaultMaxHosts bounds a sweep, larger prefixes are narrowed to the /24 around the interface address
	DefaultMaxHosts = 4096
)

// Enricher fills in best-effort details of discovered devices in place
type Enricher interface {
	Enrich(ctx context.Context, devices []types.Device)
}

// ScanOptions tunes a sweep. Zero values take the defaults.
type ScanOptions struct {
	Window     time.Duration
	BurstSize  int
	BurstPause time.Duration
	MaxHosts   uint64
	// SystemCache merges the operating system's ARP cache into the result
	SystemCache bool
	Enricher    Enricher
}

func (o *ScanOptions) withDefaults() ScanOptions {
	out := *o
	if out.Window <= 0 {
		out.Window = DefaultWindow
	}
	if out.BurstSize <= 0 {
		out.BurstSize = DefaultBurstSize
	}
	if out.BurstPause < 0 {
		out.BurstPause = 0
	} else if out.BurstPause == 0 {
		out.BurstPause = DefaultBurstPause
	}
	if out.MaxHosts == 0 {
		out.MaxHosts = DefaultMaxHosts
	}
	return out
}

// Scanner sweeps the subnet of the dispatcher's interface
type Scanner struct {
	dispatcher *dispatch.Dispatcher
	options    ScanOptions
	readTable  func() ([]Entry, error)
}

// NewScanner creates a scanner over a running dispatcher
func NewScanner(d *dispatch.Dispatcher, options ScanOptions) *Scanner {
	return &Scanner{
		dispatcher: d,
		options:    options.withDefaults(),
		readTable:  ReadSystemTable,
	}
}

// Candidates returns the addresses a sweep would probe, in probe order
func (s *Scanner) Candidates() ([]netip.Addr, netip.Prefix, error) {
	h := s.dispatcher.Handle()
	prefix := h.Prefix().Masked()
	if common.HostCount(prefix) > s.options.MaxHosts {
		narrowed := common.Narrow24(h.Addr())
		gologger.Info().Msgf("%s is larger than %d hosts, sweeping %s instead", prefix, s.options.MaxHosts, narrowed)
		prefix = narrowed
	}

	hosts, err := common.HostAddresses(prefix)
	if err != nil {
		return nil, prefix, types.NewInterfaceError(err, "could not derive hosts of %s", prefix)
	}
	own := h.Addr()
	candidates := hosts[:0]
	for _, ip := range hosts {
		if ip != own {
			candidates = append(candidates, ip)
		}
	}
	return prescan.Order(candidates, prefix), prefix, nil
}

// Scan sweeps the subnet and returns one device per replying host, sorted by IP.
// Zero devices is a valid result.
func (s *Scanner) Scan(ctx context.Context) ([]types.Device, error) {
	candidates, prefix, err := s.Candidates()
	if err != nil {
		return nil, err
	}
	h := s.dispatcher.Handle()
	gologger.Verbose().Msgf("sweeping %d hosts of %s on %s", len(candidates), prefix, h.Name())

	collector := dispatch.NewCollector()
	cancels := make([]func() bool, 0, len(candidates))
	for _, ip := range candidates {
		cancels = append(cancels, s.dispatcher.Subscribe(ip, collector))
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	deadline := time.Now().Add(s.options.Window)
	if err := s.sendRequests(ctx, h, candidates); err != nil {
		return nil, err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	seen := collector.Seen()
	if s.options.SystemCache {
		s.mergeSystemTable(seen, prefix, h.Addr())
	}

	ips := make([]netip.Addr, 0, len(seen))
	for ip := range seen {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool { return ips[i].Less(ips[j]) })

	devices := make([]types.Device, 0, len(ips))
	for _, ip := range ips {
		devices = append(devices, types.Device{
			IP:     ip.String(),
			MAC:    seen[ip].String(),
			Vendor: types.UnknownVendor,
		})
	}
	if s.options.Enricher != nil && len(devices) > 0 {
		s.options.Enricher.Enrich(ctx, devices)
	}
	gologger.Verbose().Msgf("sweep of %s found %d devices", prefix, len(devices))
	return devices, nil
}

func (s *Scanner) sendRequests(ctx context.Context, h *link.Handle, candidates []netip.Addr) error {
	awg, err := syncutil.New(syncutil.WithSize(s.options.BurstSize))
	if err != nil {
		return types.NewSystemError(err, "failed to create adaptive waitgroup")
	}

	var sent, failed atomic.Int64
	var closed atomic.Bool
	mac, own := h.HardwareAddr(), h.Addr()

	for i, ip := range candidates {
		if i > 0 && i%s.options.BurstSize == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.options.BurstPause):
			}
		}
		if ctx.Err() != nil || closed.Load() {
			break
		}

		awg.Add()
		go func(target netip.Addr) {
			defer awg.Done()
			if err := h.Send(arpframe.Encode(arpframe.Request(mac, own, target))); err != nil {
				if errors.Is(err, link.ErrClosed) {
					closed.Store(true)
				}
				failed.Add(1)
				gologger.Debug().Msgf("arp request to %s failed: %s", target, err)
				return
			}
			sent.Add(1)
		}(ip)
	}
	awg.Wait()

	if closed.Load() {
		return link.ErrClosed
	}
	if n := failed.Load(); n > 0 {
		gologger.Warning().Msgf("%d of %d arp requests could not be sent on %s", n, len(candidates), h.Name())
		if sent.Load() == 0 {
			return types.NewNetworkError(nil, "no arp request could be sent on %s", h.Name())
		}
	}
	return nil
}

func (s *Scanner) mergeSystemTable(seen map[netip.Addr]net.HardwareAddr, prefix netip.Prefix, own netip.Addr) {
	entries, err := s.readTable()
	if err != nil {
		gologger.Debug().Msgf("could not read system arp table: %s", err)
		return
	}
	added := 0
	for _, e := range entries {
		if !prefix.Contains(e.IP) || e.IP == own || common.IsNetworkOrBroadcast(e.IP, prefix) {
			continue
		}
		if _, ok := seen[e.IP]; !ok {
			seen[e.IP] = e.MAC
			added++
		}
	}
	if added > 0 {
		gologger.Verbose().Msgf("merged %d entries from the system arp table", added)
	}
}
