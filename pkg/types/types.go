package types

import (
	"net/netip"
	"time"
)

// Interface is a point-in-time snapshot of a local network interface
type Interface struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	MAC         string         `json:"mac"`
	Addresses   []netip.Prefix `json:"ips"`
	Up          bool           `json:"up"`
}

// IPv4 returns the first IPv4 prefix assigned to the interface
func (i Interface) IPv4() (netip.Prefix, bool) {
	for _, p := range i.Addresses {
		if p.Addr().Is4() {
			return p, true
		}
	}
	return netip.Prefix{}, false
}

// Device represents a host discovered by a network sweep
type Device struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac,omitempty"`
	Hostname string `json:"hostname"`
	Vendor   string `json:"vendor"`
}

// UnknownVendor is reported when the hardware prefix is not in the OUI table
const UnknownVendor = "Unknown"

// SessionState is the lifecycle stage of a spoofing session
type SessionState int32

const (
	StateCreated SessionState = iota
	StateResolving
	StateActive
	StateStopping
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateResolving:
		return "resolving"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionSnapshot is a serializable copy of a spoofing session
type SessionSnapshot struct {
	ID          string       `json:"id"`
	TargetIP    string       `json:"target_ip"`
	TargetMAC   string       `json:"target_mac"`
	GatewayIP   string       `json:"gateway_ip"`
	GatewayMAC  string       `json:"gateway_mac"`
	Interface   string       `json:"interface"`
	AttackerMAC string       `json:"attacker_mac"`
	State       SessionState `json:"state"`
	IsActive    bool         `json:"is_active"`
	PacketsSent uint64       `json:"packets_sent"`
	CreatedAt   time.Time    `json:"created_at"`
}

// DeviceFailure records why a session could not be started for one device
type DeviceFailure struct {
	IP    string `json:"ip"`
	Error *Error `json:"error"`
}

// SpoofAllResult is the outcome of a batch start
type SpoofAllResult struct {
	SessionIDs []string        `json:"session_ids"`
	Failures   []DeviceFailure `json:"failures,omitempty"`
}
