// Package linktest provides an in-memory Ethernet segment that answers ARP
// requests for configured hosts, for tests that exercise the link layer
// without raw socket privileges.
package linktest

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/projectdiscovery/kancut/pkg/arpframe"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/common"
	"github.com/projectdiscovery/kancut/pkg/types"
)

// ReadTimeout is how long a read waits before reporting link.ErrTimeout
const ReadTimeout = 10 * time.Millisecond

type host struct {
	mac       net.HardwareAddr
	duplicate net.HardwareAddr
	silent    bool
}

// Medium is a simulated segment. It implements link.Device.
type Medium struct {
	mu       sync.Mutex
	hosts    map[netip.Addr]*host
	delay    time.Duration
	loopback bool
	writeErr error
	sent     [][]byte
	opens    int
	done     chan struct{}

	queue chan []byte
}

// New creates an empty medium
func New() *Medium {
	done := make(chan struct{})
	close(done)
	return &Medium{
		hosts: make(map[netip.Addr]*host),
		queue: make(chan []byte, 4096),
		done:  done,
	}
}

// AddHost makes ip answer ARP requests with mac
func (m *Medium) AddHost(ip, mac string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[netip.MustParseAddr(ip)] = &host{mac: mustMAC(mac)}
}

// AddDuplicate makes ip answer every request a second time with another mac
func (m *Medium) AddDuplicate(ip, mac string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.hosts[netip.MustParseAddr(ip)]; ok {
		h.duplicate = mustMAC(mac)
	}
}

// Silence stops ip from answering without forgetting it
func (m *Medium) Silence(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.hosts[netip.MustParseAddr(ip)]; ok {
		h.silent = true
	}
}

// SetReplyDelay delays every generated reply
func (m *Medium) SetReplyDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetLoopback makes every written frame readable again, like a capture
// device that sees outgoing traffic
func (m *Medium) SetLoopback(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loopback = on
}

// SetWriteError makes every write fail with err until reset with nil
func (m *Medium) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Inject queues a raw frame for the reader
func (m *Medium) Inject(frame []byte) {
	select {
	case m.queue <- frame:
	default:
	}
}

// Opens returns how many times the device was opened
func (m *Medium) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Sent returns every decodable frame written so far
func (m *Medium) Sent() []arpframe.Frame {
	m.mu.Lock()
	raw := append([][]byte(nil), m.sent...)
	m.mu.Unlock()

	frames := make([]arpframe.Frame, 0, len(raw))
	for _, b := range raw {
		if f, err := arpframe.Decode(b); err == nil {
			frames = append(frames, f)
		}
	}
	return frames
}

// SentReplies returns the written ARP replies whose target IP is dst
func (m *Medium) SentReplies(dst string) []arpframe.Frame {
	ip := netip.MustParseAddr(dst)
	var out []arpframe.Frame
	for _, f := range m.Sent() {
		if f.Operation == arpframe.OperationReply && f.TargetIP == ip {
			out = append(out, f)
		}
	}
	return out
}

// Opener returns a link.Opener that hands out this medium
func (m *Medium) Opener() link.Opener {
	return func(types.Interface) (link.Device, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.opens++
		m.done = make(chan struct{})
		return m, nil
	}
}

// ReadPacketData implements link.Device
func (m *Medium) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil, gopacket.CaptureInfo{}, io.EOF
	default:
	}

	select {
	case <-done:
		return nil, gopacket.CaptureInfo{}, io.EOF
	case frame := <-m.queue:
		return frame, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}, nil
	case <-time.After(ReadTimeout):
		return nil, gopacket.CaptureInfo{}, link.ErrTimeout
	}
}

// WritePacketData implements link.Device, answering requests for known hosts
func (m *Medium) WritePacketData(data []byte) error {
	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, append([]byte(nil), data...))
	delay := m.delay
	if m.loopback {
		m.Inject(append([]byte(nil), data...))
	}

	req, err := arpframe.Decode(data)
	if err != nil || req.Operation != arpframe.OperationRequest {
		m.mu.Unlock()
		return nil
	}
	h, ok := m.hosts[req.TargetIP]
	if !ok || h.silent {
		m.mu.Unlock()
		return nil
	}
	replies := [][]byte{arpframe.Encode(arpframe.Reply(h.mac, req.TargetIP, req.SenderMAC, req.SenderIP))}
	if h.duplicate != nil {
		replies = append(replies, arpframe.Encode(arpframe.Reply(h.duplicate, req.TargetIP, req.SenderMAC, req.SenderIP)))
	}
	m.mu.Unlock()

	deliver := func() {
		for _, r := range replies {
			m.Inject(r)
		}
	}
	if delay > 0 {
		time.AfterFunc(delay, deliver)
	} else {
		deliver()
	}
	return nil
}

// Close implements link.Device
func (m *Medium) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// Interface builds an up interface descriptor
func Interface(name, cidr, mac string) types.Interface {
	prefix := netip.MustParsePrefix(cidr)
	return types.Interface{
		Name:        name,
		Description: fmt.Sprintf("%s - %s", name, prefix.Addr()),
		MAC:         mac,
		Addresses:   []netip.Prefix{prefix},
		Up:          true,
	}
}

// Lookup returns a link.Lookup resolving only the given interfaces
func Lookup(ifaces ...types.Interface) link.Lookup {
	return func(name string) (types.Interface, error) {
		for _, iface := range ifaces {
			if iface.Name == name {
				return iface, nil
			}
		}
		return types.Interface{}, fmt.Errorf("%w: %s", common.ErrInterfaceNotFound, name)
	}
}

func mustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}
