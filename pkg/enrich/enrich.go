// Package enrich adds best-effort vendor and hostname details to discovered
// devices. Lookups never fail a scan, a miss leaves the hostname empty and the
// vendor set to types.UnknownVendor.
package enrich

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/macs"
	"github.com/miekg/dns"
	"github.com/projectdiscovery/gcache"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/types"
	syncutil "github.com/projectdiscovery/utils/sync"
)

const (
	DefaultTimeout     = 500 * time.Millisecond
	DefaultConcurrency = 16
	DefaultCacheSize   = 1024
	DefaultCacheTTL    = 10 * time.Minute
	mdnsPort           = 5353
)

// Options configures an Enricher. Zero values take the defaults.
type Options struct {
	Timeout     time.Duration
	Concurrency int
	// MDNS asks the host itself over multicast DNS when reverse DNS has no name
	MDNS      bool
	CacheSize int
	CacheTTL  time.Duration
}

// Enricher resolves hostnames and vendors, caching hostnames per IP
type Enricher struct {
	options    Options
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
	mdnsPort   int
	cache      gcache.Cache[string, string]
}

// New creates an enricher
func New(options Options) *Enricher {
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Concurrency <= 0 {
		options.Concurrency = DefaultConcurrency
	}
	if options.CacheSize <= 0 {
		options.CacheSize = DefaultCacheSize
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = DefaultCacheTTL
	}
	return &Enricher{
		options:    options,
		lookupAddr: net.DefaultResolver.LookupAddr,
		mdnsPort:   mdnsPort,
		cache: gcache.New[string, string](options.CacheSize).
			LRU().
			Expiration(options.CacheTTL).
			Build(),
	}
}

// Enrich fills Vendor and Hostname of every device in place
func (e *Enricher) Enrich(ctx context.Context, devices []types.Device) {
	awg, err := syncutil.New(syncutil.WithSize(e.options.Concurrency))
	if err != nil {
		gologger.Debug().Msgf("enrichment skipped: %s", err)
		for i := range devices {
			devices[i].Vendor = Vendor(devices[i].MAC)
		}
		return
	}

	for i := range devices {
		devices[i].Vendor = Vendor(devices[i].MAC)
		if devices[i].Hostname != "" {
			continue
		}
		awg.Add()
		go func(d *types.Device) {
			defer awg.Done()
			d.Hostname = e.Hostname(ctx, d.IP)
		}(&devices[i])
	}
	awg.Wait()
}

// Hostname returns the name of ip, or an empty string when none is found
func (e *Enricher) Hostname(ctx context.Context, ip string) string {
	if name, err := e.cache.Get(ip); err == nil {
		return name
	}

	name := e.reverseDNS(ctx, ip)
	if name == "" && e.options.MDNS {
		name = e.multicastDNS(ctx, ip)
	}
	if ctx.Err() == nil {
		_ = e.cache.Set(ip, name)
	}
	return name
}

func (e *Enricher) reverseDNS(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, e.options.Timeout)
	defer cancel()

	names, err := e.lookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

// multicastDNS sends a unicast PTR query to the host's mDNS responder
func (e *Enricher) multicastDNS(ctx context.Context, ip string) string {
	reverse, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, e.options.Timeout)
	defer cancel()

	q := new(dns.Msg)
	q.SetQuestion(reverse, dns.TypePTR)
	q.RecursionDesired = false

	client := &dns.Client{Net: "udp", Timeout: e.options.Timeout}
	resp, _, err := client.ExchangeContext(ctx, q, net.JoinHostPort(ip, strconv.Itoa(e.mdnsPort)))
	if err != nil || resp == nil {
		return ""
	}
	for _, rr := range append(resp.Answer, resp.Extra...) {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}

// Vendor returns the organisation owning the hardware prefix of mac
func Vendor(mac string) string {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) < 3 {
		return types.UnknownVendor
	}
	var prefix [3]byte
	copy(prefix[:], hw[:3])
	if vendor, ok := macs.ValidMACPrefixMap[prefix]; ok && vendor != "" {
		return vendor
	}
	return types.UnknownVendor
}
