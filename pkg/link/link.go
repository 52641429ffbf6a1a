package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/common"
	"github.com/projectdiscovery/kancut/pkg/types"
)

var (
	// ErrTimeout is returned by Device reads that saw no frame within the read timeout
	ErrTimeout = errors.New("read timeout")
	// ErrClosed is returned once the handle has been released
	ErrClosed = types.NewSystemError(nil, "link handle closed")
	// ErrLoopRunning is returned when a second receive loop is started on a handle
	ErrLoopRunning = types.NewSystemError(nil, "receive loop already running")
)

// Device is a raw capture-and-inject endpoint bound to one interface.
// *pcap.Handle satisfies it, except for the timeout mapping done by the pcap backend.
type Device interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	WritePacketData(data []byte) error
	Close()
}

// Lookup resolves an interface name to its current descriptor
type Lookup func(name string) (types.Interface, error)

// Opener opens the raw device for an interface
type Opener func(iface types.Interface) (Device, error)

// Manager owns every open handle, one per interface name
type Manager struct {
	lookup Lookup
	open   Opener

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates a manager. A nil lookup uses common.GetInterface.
func NewManager(lookup Lookup, open Opener) *Manager {
	if lookup == nil {
		lookup = common.GetInterface
	}
	return &Manager{
		lookup:  lookup,
		open:    open,
		handles: make(map[string]*Handle),
	}
}

// Open returns the handle for the named interface, opening the device on
// first use. Every successful Open must be paired with a Handle.Close.
func (m *Manager) Open(name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[name]; ok {
		h.refs++
		return h, nil
	}

	iface, err := m.lookup(name)
	if err != nil {
		if errors.Is(err, common.ErrInterfaceNotFound) {
			return nil, types.NewInterfaceError(err, "interface %q not found", name)
		}
		return nil, types.NewInterfaceError(err, "could not look up interface %q", name)
	}
	if !iface.Up {
		return nil, types.NewInterfaceError(nil, "interface %q is down", name)
	}
	prefix, ok := iface.IPv4()
	if !ok {
		return nil, types.NewInterfaceError(nil, "interface %q has no IPv4 address", name)
	}
	mac, err := net.ParseMAC(iface.MAC)
	if err != nil || len(mac) != 6 || isZeroMAC(mac) {
		return nil, types.NewInterfaceError(err, "interface %q has no usable hardware address", name)
	}

	dev, err := m.open(iface)
	if err != nil {
		var kerr *types.Error
		if errors.As(err, &kerr) {
			return nil, err
		}
		return nil, ClassifyOpenError(name, err)
	}

	h := &Handle{
		manager: m,
		iface:   iface,
		mac:     mac,
		prefix:  prefix,
		dev:     dev,
		refs:    1,
	}
	m.handles[name] = h
	gologger.Verbose().Msgf("opened raw handle on %s (%s, %s)", name, mac, prefix)
	return h, nil
}

// Refs returns the reference count of the named handle, 0 when not open
func (m *Manager) Refs(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[name]; ok {
		return h.refs
	}
	return 0
}

// Close force-closes every handle regardless of outstanding references
func (m *Manager) Close() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.shutdown()
	}
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	if cur, ok := m.handles[h.iface.Name]; !ok || cur != h {
		m.mu.Unlock()
		return
	}
	h.refs--
	last := h.refs <= 0
	if last {
		delete(m.handles, h.iface.Name)
	}
	m.mu.Unlock()

	if last {
		h.shutdown()
	}
}

// Handle is a shared raw send/receive endpoint on one interface
type Handle struct {
	manager *Manager
	iface   types.Interface
	mac     net.HardwareAddr
	prefix  netip.Prefix
	dev     Device

	sendMu    sync.Mutex
	closed    atomic.Bool
	receiving atomic.Bool

	// guarded by manager.mu
	refs int
}

// Name returns the interface name
func (h *Handle) Name() string { return h.iface.Name }

// Interface returns the descriptor captured when the handle was opened
func (h *Handle) Interface() types.Interface { return h.iface }

// HardwareAddr returns the interface's own MAC address
func (h *Handle) HardwareAddr() net.HardwareAddr { return h.mac }

// Prefix returns the interface's IPv4 address with its subnet length
func (h *Handle) Prefix() netip.Prefix { return h.prefix }

// Addr returns the interface's IPv4 address
func (h *Handle) Addr() netip.Addr { return h.prefix.Addr() }

// Send writes one frame. Concurrent sends are serialized.
func (h *Handle) Send(frame []byte) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	if h.closed.Load() {
		return ErrClosed
	}
	if err := h.dev.WritePacketData(frame); err != nil {
		return types.NewNetworkError(err, "could not send frame on %s", h.iface.Name)
	}
	return nil
}

// ReceiveLoop reads frames until ctx is cancelled or the handle is closed,
// passing every frame to onFrame. Only one loop may run per handle.
func (h *Handle) ReceiveLoop(ctx context.Context, onFrame func([]byte)) error {
	if !h.receiving.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer h.receiving.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if h.closed.Load() {
			return ErrClosed
		}

		data, _, err := h.dev.ReadPacketData()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if h.closed.Load() {
				return ErrClosed
			}
			return types.NewNetworkError(err, "receive on %s failed", h.iface.Name)
		}
		onFrame(data)
	}
}

// Close releases this reference to the handle
func (h *Handle) Close() {
	h.manager.release(h)
}

// Closed reports whether the device behind the handle has been closed
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

func (h *Handle) shutdown() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	// wait for an in-flight send before closing the device under it
	h.sendMu.Lock()
	h.dev.Close()
	h.sendMu.Unlock()
	gologger.Verbose().Msgf("closed raw handle on %s", h.iface.Name)
}

// ClassifyOpenError maps a device open failure to a permission or interface error
func ClassifyOpenError(name string, err error) error {
	if isPermission(err) {
		return types.NewPermissionError(err, "raw access to %q denied, run with elevated privileges", name)
	}
	return types.NewInterfaceError(err, "could not open interface %q", name)
}

func isPermission(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") || strings.Contains(msg, "operation not permitted")
}

func isZeroMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}

// OpenerFor returns the opener of a named backend
func OpenerFor(backend string) (Opener, error) {
	switch strings.ToLower(backend) {
	case "", BackendPcap:
		return OpenPcap, nil
	case BackendAFPacket:
		return OpenAFPacket, nil
	default:
		return nil, types.NewConfigurationError(nil, "unknown link backend %q", backend)
	}
}

// Backend names
const (
	BackendPcap     = "pcap"
	BackendAFPacket = "afpacket"
)

func (h *Handle) String() string {
	return fmt.Sprintf("%s(%s)", h.iface.Name, h.mac)
}
