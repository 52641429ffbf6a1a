package common

import (
	"errors"
	"net/netip"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
)

func TestHostAddresses(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		wantCount int
		wantFirst string
		wantLast  string
	}{
		{name: "/24 from host address", prefix: "192.168.1.10/24", wantCount: 254, wantFirst: "192.168.1.1", wantLast: "192.168.1.254"},
		{name: "/30", prefix: "10.0.0.0/30", wantCount: 2, wantFirst: "10.0.0.1", wantLast: "10.0.0.2"},
		{name: "/28 unaligned", prefix: "172.16.5.77/28", wantCount: 14, wantFirst: "172.16.5.65", wantLast: "172.16.5.78"},
		{name: "single host /32", prefix: "192.168.1.1/32", wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hosts, err := HostAddresses(netip.MustParsePrefix(tt.prefix))
			if err != nil {
				t.Fatalf("HostAddresses() error = %v", err)
			}
			if len(hosts) != tt.wantCount {
				t.Fatalf("HostAddresses() count = %d, want %d", len(hosts), tt.wantCount)
			}
			if tt.wantCount == 0 {
				return
			}
			if hosts[0].String() != tt.wantFirst || hosts[len(hosts)-1].String() != tt.wantLast {
				t.Errorf("range = %s..%s, want %s..%s", hosts[0], hosts[len(hosts)-1], tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestBroadcast(t *testing.T) {
	tests := map[string]string{
		"192.168.1.10/24": "192.168.1.255",
		"10.1.2.3/20":     "10.1.15.255",
		"10.0.0.1/8":      "10.255.255.255",
		"192.168.1.1/32":  "192.168.1.1",
	}
	for prefix, want := range tests {
		if got := Broadcast(netip.MustParsePrefix(prefix)); got.String() != want {
			t.Errorf("Broadcast(%s) = %s, want %s", prefix, got, want)
		}
	}
}

func TestHostCount(t *testing.T) {
	if got := HostCount(netip.MustParsePrefix("192.168.0.0/16")); got != 65534 {
		t.Errorf("HostCount(/16) = %d, want 65534", got)
	}
	if got := HostCount(netip.MustParsePrefix("192.168.0.1/31")); got != 0 {
		t.Errorf("HostCount(/31) = %d, want 0", got)
	}
}

func TestGetInterfaces(t *testing.T) {
	old := interfaceStats
	defer func() { interfaceStats = old }()
	interfaceStats = func() (psnet.InterfaceStatList, error) {
		return psnet.InterfaceStatList{
			{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
			{Name: "eth0", HardwareAddr: "02:00:00:00:00:0a", Flags: []string{"up", "broadcast"}, Addrs: psnet.InterfaceAddrList{
				{Addr: "192.168.1.10/24"},
				{Addr: "fe80::1/64"},
				{Addr: "169.254.3.4/16"},
			}},
			{Name: "wlan0", HardwareAddr: "02:00:00:00:00:0b", Flags: []string{"broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "10.0.0.5/8"}}},
			{Name: "v6only", Flags: []string{"up"}, Addrs: psnet.InterfaceAddrList{{Addr: "fd00::2/64"}}},
		}, nil
	}

	got, err := GetInterfaces()
	if err != nil {
		t.Fatalf("GetInterfaces() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetInterfaces() = %d interfaces, want 2", len(got))
	}
	eth0 := got[0]
	if eth0.Name != "eth0" || !eth0.Up || len(eth0.Addresses) != 1 {
		t.Errorf("eth0 = %+v", eth0)
	}
	if eth0.Description != "eth0 - 192.168.1.10" {
		t.Errorf("Description = %q", eth0.Description)
	}
	if got[1].Up {
		t.Errorf("wlan0 reported up without the up flag")
	}

	if _, err := GetInterface("missing0"); !errors.Is(err, ErrInterfaceNotFound) {
		t.Errorf("GetInterface(missing0) error = %v, want ErrInterfaceNotFound", err)
	}
}
