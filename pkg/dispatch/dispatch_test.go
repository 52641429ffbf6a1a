package dispatch

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/projectdiscovery/kancut/pkg/arpframe"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/link/linktest"
)

var (
	localMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0a}
	localIP  = netip.MustParseAddr("192.168.1.10")
)

func replyFrame(ip string, mac net.HardwareAddr) []byte {
	return arpframe.Encode(arpframe.Reply(mac, netip.MustParseAddr(ip), localMAC, localIP))
}

func TestWaiterDelivery(t *testing.T) {
	d := New(nil)
	w := NewWaiter()
	cancel := d.Subscribe(netip.MustParseAddr("192.168.1.1"), w)

	mac := net.HardwareAddr{0xaa, 0, 0, 0, 0, 1}
	d.HandleFrame(replyFrame("192.168.1.1", mac))

	select {
	case r := <-w.C():
		if !bytes.Equal(r.MAC, mac) {
			t.Fatalf("MAC = %s, want %s", r.MAC, mac)
		}
	default:
		t.Fatal("waiter received nothing")
	}
	if cancel() {
		t.Fatal("cancel() = true after the waiter was consumed")
	}
	if n := d.Subscriptions(); n != 0 {
		t.Fatalf("Subscriptions() = %d, want 0", n)
	}
}

func TestCancelBeforeDelivery(t *testing.T) {
	d := New(nil)
	w := NewWaiter()
	cancel := d.Subscribe(netip.MustParseAddr("192.168.1.1"), w)
	if !cancel() {
		t.Fatal("cancel() = false for a pending waiter")
	}
	if cancel() {
		t.Fatal("second cancel() = true")
	}

	d.HandleFrame(replyFrame("192.168.1.1", net.HardwareAddr{0xaa, 0, 0, 0, 0, 1}))
	select {
	case r := <-w.C():
		t.Fatalf("cancelled waiter received %+v", r)
	default:
	}
}

func TestCollectorKeepsFirstMAC(t *testing.T) {
	d := New(nil)
	c := NewCollector()
	ips := []string{"192.168.1.1", "192.168.1.2"}
	var cancels []func() bool
	for _, ip := range ips {
		cancels = append(cancels, d.Subscribe(netip.MustParseAddr(ip), c))
	}

	first := net.HardwareAddr{0xaa, 0, 0, 0, 0, 1}
	second := net.HardwareAddr{0xbb, 0, 0, 0, 0, 1}
	d.HandleFrame(replyFrame("192.168.1.1", first))
	d.HandleFrame(replyFrame("192.168.1.1", second))
	d.HandleFrame(replyFrame("192.168.1.3", second))

	seen := c.Seen()
	if len(seen) != 1 {
		t.Fatalf("Seen() = %v, want one entry", seen)
	}
	if got := seen[netip.MustParseAddr("192.168.1.1")]; !bytes.Equal(got, first) {
		t.Fatalf("MAC = %s, want first seen %s", got, first)
	}

	for _, cancel := range cancels {
		if !cancel() {
			t.Fatal("collector subscription was removed by a delivery")
		}
	}
	if n := d.Subscriptions(); n != 0 {
		t.Fatalf("Subscriptions() = %d, want 0", n)
	}
}

func TestNonRepliesDropped(t *testing.T) {
	d := New(nil)
	w := NewWaiter()
	defer d.Subscribe(netip.MustParseAddr("192.168.1.1"), w)()

	frames := [][]byte{
		nil,
		{0x01, 0x02, 0x03},
		arpframe.Encode(arpframe.Request(net.HardwareAddr{0xaa, 0, 0, 0, 0, 1}, netip.MustParseAddr("192.168.1.1"), localIP)),
		append(replyFrame("192.168.1.1", net.HardwareAddr{0xaa, 0, 0, 0, 0, 1})[:12], 0x08, 0x00),
	}
	for _, f := range frames {
		d.HandleFrame(f)
	}
	select {
	case r := <-w.C():
		t.Fatalf("waiter received %+v from a non-reply frame", r)
	default:
	}
}

func TestIndependentIPs(t *testing.T) {
	d := New(nil)
	w1, w2 := NewWaiter(), NewWaiter()
	d.Subscribe(netip.MustParseAddr("192.168.1.1"), w1)
	cancel2 := d.Subscribe(netip.MustParseAddr("192.168.1.2"), w2)

	d.HandleFrame(replyFrame("192.168.1.1", net.HardwareAddr{0xaa, 0, 0, 0, 0, 1}))
	if len(w1.C()) != 1 || len(w2.C()) != 0 {
		t.Fatalf("deliveries = %d/%d, want 1/0", len(w1.C()), len(w2.C()))
	}
	if !cancel2() {
		t.Fatal("unrelated waiter was consumed")
	}
}

// every waiter is either cancelled or delivered, never both and never neither
func TestConcurrentRemoveOrDeliver(t *testing.T) {
	d := New(nil)
	ip := netip.MustParseAddr("192.168.1.1")
	reply := replyFrame("192.168.1.1", net.HardwareAddr{0xaa, 0, 0, 0, 0, 1})

	const n = 200
	waiters := make([]*Waiter, n)
	removed := make([]bool, n)

	stop := make(chan struct{})
	var feeder sync.WaitGroup
	feeder.Add(1)
	go func() {
		defer feeder.Done()
		for {
			select {
			case <-stop:
				return
			default:
				d.HandleFrame(reply)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			waiters[i] = NewWaiter()
			cancel := d.Subscribe(ip, waiters[i])
			removed[i] = cancel()
		}(i)
	}
	wg.Wait()
	close(stop)
	feeder.Wait()

	for i := 0; i < n; i++ {
		delivered := len(waiters[i].C()) == 1
		if delivered == removed[i] {
			t.Fatalf("waiter %d: delivered=%v removed=%v", i, delivered, removed[i])
		}
	}
	if got := d.Subscriptions(); got != 0 {
		t.Fatalf("Subscriptions() = %d, want 0", got)
	}
}

func TestRunOverMedium(t *testing.T) {
	medium := linktest.New()
	medium.AddHost("192.168.1.1", "aa:aa:aa:aa:aa:01")
	iface := linktest.Interface("eth-test", "192.168.1.10/24", "02:00:00:00:00:0a")
	mgr := link.NewManager(linktest.Lookup(iface), medium.Opener())
	defer mgr.Close()

	h, err := mgr.Open("eth-test")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	d := New(h)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	w := NewWaiter()
	d.Subscribe(netip.MustParseAddr("192.168.1.1"), w)
	if err := h.Send(arpframe.Encode(arpframe.Request(h.HardwareAddr(), h.Addr(), netip.MustParseAddr("192.168.1.1")))); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case r := <-w.C():
		if r.MAC.String() != "aa:aa:aa:aa:aa:01" {
			t.Fatalf("MAC = %s", r.MAC)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply dispatched")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOwnFramesDropped(t *testing.T) {
	d := New(nil)
	d.local = localMAC
	c := NewCollector()
	defer d.Subscribe(netip.MustParseAddr("192.168.1.1"), c)()
	defer d.Subscribe(netip.MustParseAddr("192.168.1.50"), c)()

	realMAC := net.HardwareAddr{0xaa, 0, 0, 0, 0, 1}
	relayed := arpframe.Reply(realMAC, netip.MustParseAddr("192.168.1.50"), localMAC, localIP)
	relayed.EthSrc = localMAC

	d.HandleFrame(replyFrame("192.168.1.1", localMAC))
	d.HandleFrame(arpframe.Encode(relayed))
	d.HandleFrame(replyFrame("192.168.1.1", realMAC))

	seen := c.Seen()
	if len(seen) != 1 {
		t.Fatalf("Seen() = %v, want only the real reply", seen)
	}
	if got := seen[netip.MustParseAddr("192.168.1.1")]; !bytes.Equal(got, realMAC) {
		t.Fatalf("MAC = %s, want %s", got, realMAC)
	}
}

func TestLoopedBackRepliesIgnored(t *testing.T) {
	medium := linktest.New()
	medium.AddHost("192.168.1.1", "aa:aa:aa:aa:aa:01")
	medium.SetLoopback(true)
	iface := linktest.Interface("eth-test", "192.168.1.10/24", "02:00:00:00:00:0a")
	mgr := link.NewManager(linktest.Lookup(iface), medium.Opener())
	defer mgr.Close()

	h, err := mgr.Open("eth-test")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	d := New(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	gateway := netip.MustParseAddr("192.168.1.1")
	w := NewWaiter()
	d.Subscribe(gateway, w)

	// a forged reply claiming the gateway is read back before the real one
	forged := arpframe.Reply(h.HardwareAddr(), gateway, net.HardwareAddr{0xbb, 0, 0, 0, 0, 0x32}, netip.MustParseAddr("192.168.1.50"))
	if err := h.Send(arpframe.Encode(forged)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := h.Send(arpframe.Encode(arpframe.Request(h.HardwareAddr(), h.Addr(), gateway))); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case r := <-w.C():
		if r.MAC.String() != "aa:aa:aa:aa:aa:01" {
			t.Fatalf("MAC = %s, want the gateway's own", r.MAC)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply dispatched")
	}
}
