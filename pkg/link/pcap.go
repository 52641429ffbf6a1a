package link

import (
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/types"
)

const (
	// DefaultSnapLen is the snapshot length for packet capture
	DefaultSnapLen = 1600
	// DefaultPromisc leaves promiscuous mode off, replies are addressed to us
	DefaultPromisc = false
	// DefaultTimeout bounds each read so cancellation is observed promptly
	DefaultTimeout = 100 * time.Millisecond
)

type pcapDevice struct {
	*pcap.Handle
}

func (d pcapDevice) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := d.Handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

// OpenPcap opens a live capture handle restricted to arp traffic
func OpenPcap(iface types.Interface) (Device, error) {
	handle, err := pcap.OpenLive(iface.Name, DefaultSnapLen, DefaultPromisc, DefaultTimeout)
	if err != nil {
		return nil, ClassifyOpenError(iface.Name, err)
	}

	if err := handle.SetBPFFilter("arp"); err != nil {
		// the dispatcher discards non-arp frames anyway
		gologger.Debug().Msgf("could not set bpf filter on %s: %s", iface.Name, err)
	}
	// our own forged replies must not be read back, the dispatcher also drops them
	if err := handle.SetDirection(pcap.DirectionIn); err != nil {
		gologger.Debug().Msgf("could not restrict capture direction on %s: %s", iface.Name, err)
	}
	return pcapDevice{Handle: handle}, nil
}

// PcapDescriptions maps capture device names to their OS description
func PcapDescriptions() map[string]string {
	out := make(map[string]string)
	devices, err := pcap.FindAllDevs()
	if err != nil {
		gologger.Debug().Msgf("could not list pcap devices: %s", err)
		return out
	}
	for _, dev := range devices {
		if dev.Description != "" {
			out[dev.Name] = dev.Description
		}
	}
	return out
}
