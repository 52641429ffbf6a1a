package arp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/projectdiscovery/kancut/pkg/arpframe"
	"github.com/projectdiscovery/kancut/pkg/dispatch"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/link/linktest"
	"github.com/projectdiscovery/kancut/pkg/types"
)

func startDispatcher(t *testing.T, medium *linktest.Medium, cidr string) *dispatch.Dispatcher {
	t.Helper()
	iface := linktest.Interface("eth-test", cidr, "02:00:00:00:00:0a")
	mgr := link.NewManager(linktest.Lookup(iface), medium.Opener())
	h, err := mgr.Open("eth-test")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	d := dispatch.New(h)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.Close()
		mgr.Close()
	})
	return d
}

type hostnameEnricher struct{}

func (hostnameEnricher) Enrich(_ context.Context, devices []types.Device) {
	for i := range devices {
		devices[i].Hostname = "host-" + devices[i].IP
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name      string
		hosts     map[string]string
		duplicate map[string]string
		delay     time.Duration
		enricher  Enricher
		want      []types.Device
	}{
		{
			name:  "gateway and target",
			hosts: map[string]string{"192.168.1.1": "aa:aa:aa:aa:aa:01", "192.168.1.50": "bb:bb:bb:bb:bb:50"},
			want: []types.Device{
				{IP: "192.168.1.1", MAC: "aa:aa:aa:aa:aa:01", Vendor: types.UnknownVendor},
				{IP: "192.168.1.50", MAC: "bb:bb:bb:bb:bb:50", Vendor: types.UnknownVendor},
			},
		},
		{
			name:      "duplicate replies keep the first mac",
			hosts:     map[string]string{"192.168.1.50": "bb:bb:bb:bb:bb:50"},
			duplicate: map[string]string{"192.168.1.50": "cc:cc:cc:cc:cc:50"},
			want: []types.Device{
				{IP: "192.168.1.50", MAC: "bb:bb:bb:bb:bb:50", Vendor: types.UnknownVendor},
			},
		},
		{
			name:  "late replies inside the window",
			hosts: map[string]string{"192.168.1.200": "dd:dd:dd:dd:dd:c8"},
			delay: 50 * time.Millisecond,
			want: []types.Device{
				{IP: "192.168.1.200", MAC: "dd:dd:dd:dd:dd:c8", Vendor: types.UnknownVendor},
			},
		},
		{
			name:     "sorted by address and enriched",
			hosts:    map[string]string{"192.168.1.100": "aa:00:00:00:00:64", "192.168.1.9": "aa:00:00:00:00:09", "192.168.1.20": "aa:00:00:00:00:14"},
			enricher: hostnameEnricher{},
			want: []types.Device{
				{IP: "192.168.1.9", MAC: "aa:00:00:00:00:09", Hostname: "host-192.168.1.9", Vendor: types.UnknownVendor},
				{IP: "192.168.1.20", MAC: "aa:00:00:00:00:14", Hostname: "host-192.168.1.20", Vendor: types.UnknownVendor},
				{IP: "192.168.1.100", MAC: "aa:00:00:00:00:64", Hostname: "host-192.168.1.100", Vendor: types.UnknownVendor},
			},
		},
		{
			name: "no hosts answer",
			want: []types.Device{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			medium := linktest.New()
			for ip, mac := range tt.hosts {
				medium.AddHost(ip, mac)
			}
			for ip, mac := range tt.duplicate {
				medium.AddDuplicate(ip, mac)
			}
			medium.SetReplyDelay(tt.delay)

			d := startDispatcher(t, medium, "192.168.1.10/24")
			scanner := NewScanner(d, ScanOptions{Window: 300 * time.Millisecond, Enricher: tt.enricher})
			got, err := scanner.Scan(context.Background())
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if got == nil || len(got) != len(tt.want) {
				t.Fatalf("Scan() = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("device %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
			if n := d.Subscriptions(); n != 0 {
				t.Errorf("Subscriptions() after scan = %d, want 0", n)
			}
		})
	}
}

func TestScanProbesEveryCandidate(t *testing.T) {
	medium := linktest.New()
	d := startDispatcher(t, medium, "192.168.1.10/24")
	scanner := NewScanner(d, ScanOptions{Window: 100 * time.Millisecond, BurstSize: 16})
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	targets := make(map[netip.Addr]int)
	for _, f := range medium.Sent() {
		if f.Operation != arpframe.OperationRequest {
			t.Fatalf("sweep sent a %s frame", f.Operation)
		}
		if f.EthDst.String() != "ff:ff:ff:ff:ff:ff" {
			t.Fatalf("request not broadcast: %s", f.EthDst)
		}
		targets[f.TargetIP]++
	}
	// 254 hosts minus our own address
	if len(targets) != 253 {
		t.Fatalf("probed %d distinct hosts, want 253", len(targets))
	}
	for _, skip := range []string{"192.168.1.0", "192.168.1.10", "192.168.1.255"} {
		if targets[netip.MustParseAddr(skip)] != 0 {
			t.Errorf("%s was probed", skip)
		}
	}
}

func TestCandidatesNarrowLargePrefix(t *testing.T) {
	d := startDispatcher(t, linktest.New(), "10.20.30.40/16")
	scanner := NewScanner(d, ScanOptions{MaxHosts: 1024})
	candidates, prefix, err := scanner.Candidates()
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if prefix.String() != "10.20.30.0/24" {
		t.Fatalf("prefix = %s, want 10.20.30.0/24", prefix)
	}
	if len(candidates) != 253 {
		t.Fatalf("len(candidates) = %d, want 253", len(candidates))
	}
	if candidates[0].String() != "10.20.30.1" {
		t.Errorf("first candidate = %s, want the .1 gateway", candidates[0])
	}
}

func TestScanMergesSystemTable(t *testing.T) {
	medium := linktest.New()
	medium.AddHost("192.168.1.1", "aa:aa:aa:aa:aa:01")
	d := startDispatcher(t, medium, "192.168.1.10/24")

	scanner := NewScanner(d, ScanOptions{Window: 100 * time.Millisecond, SystemCache: true})
	scanner.readTable = func() ([]Entry, error) {
		return []Entry{
			{IP: netip.MustParseAddr("192.168.1.1"), MAC: net.HardwareAddr{0xee, 0, 0, 0, 0, 1}},
			{IP: netip.MustParseAddr("192.168.1.77"), MAC: net.HardwareAddr{0xee, 0, 0, 0, 0, 0x4d}},
			{IP: netip.MustParseAddr("10.0.0.1"), MAC: net.HardwareAddr{0xee, 0, 0, 0, 0, 2}},
		}, nil
	}

	got, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Scan() = %+v, want 2 devices", got)
	}
	if got[0].MAC != "aa:aa:aa:aa:aa:01" {
		t.Errorf("live reply overridden by cache: %s", got[0].MAC)
	}
	if got[1].IP != "192.168.1.77" {
		t.Errorf("cached entry missing: %+v", got[1])
	}
}

func TestScanCancelled(t *testing.T) {
	d := startDispatcher(t, linktest.New(), "192.168.1.10/24")
	scanner := NewScanner(d, ScanOptions{Window: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := scanner.Scan(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Scan() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Scan() ignored cancellation")
	}
}

func TestScanSendFailure(t *testing.T) {
	medium := linktest.New()
	d := startDispatcher(t, medium, "192.168.1.10/24")
	medium.SetWriteError(errors.New("network is down"))

	scanner := NewScanner(d, ScanOptions{Window: 50 * time.Millisecond})
	_, err := scanner.Scan(context.Background())
	if types.KindOf(err) != types.KindNetwork {
		t.Fatalf("Scan() error = %v, want network error", err)
	}
}

func TestResolve(t *testing.T) {
	medium := linktest.New()
	medium.AddHost("192.168.1.1", "aa:aa:aa:aa:aa:01")
	medium.AddHost("192.168.1.60", "bb:bb:bb:bb:bb:3c")
	medium.Silence("192.168.1.60")
	d := startDispatcher(t, medium, "192.168.1.10/24")
	resolver := NewResolver(d, 3, 50*time.Millisecond)

	t.Run("answering host", func(t *testing.T) {
		mac, err := resolver.Resolve(context.Background(), netip.MustParseAddr("192.168.1.1"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if mac.String() != "aa:aa:aa:aa:aa:01" {
			t.Fatalf("Resolve() = %s", mac)
		}
	})

	t.Run("silent host", func(t *testing.T) {
		_, err := resolver.Resolve(context.Background(), netip.MustParseAddr("192.168.1.60"))
		if types.KindOf(err) != types.KindNetwork {
			t.Fatalf("Resolve() error = %v, want network error", err)
		}
		requests := 0
		for _, f := range medium.Sent() {
			if f.Operation == arpframe.OperationRequest && f.TargetIP == netip.MustParseAddr("192.168.1.60") {
				requests++
			}
		}
		if requests != 3 {
			t.Fatalf("sent %d requests, want 3", requests)
		}
	})

	t.Run("own address", func(t *testing.T) {
		mac, err := resolver.Resolve(context.Background(), netip.MustParseAddr("192.168.1.10"))
		if err != nil || mac.String() != "02:00:00:00:00:0a" {
			t.Fatalf("Resolve(own) = %s, %v", mac, err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := resolver.Resolve(ctx, netip.MustParseAddr("192.168.1.99")); !errors.Is(err, context.Canceled) {
			t.Fatalf("Resolve() error = %v, want canceled", err)
		}
	})

	if n := d.Subscriptions(); n != 0 {
		t.Fatalf("Subscriptions() = %d, want 0", n)
	}
}
