//go:build linux

package link

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/mdlayher/packet"
	"github.com/projectdiscovery/kancut/pkg/types"
	"golang.org/x/sys/unix"
)

const etherTypeARP = 0x0806

type packetDevice struct {
	conn    *packet.Conn
	timeout time.Duration
	buf     []byte
}

// OpenAFPacket opens a raw AF_PACKET socket bound to the arp ethertype.
// It needs CAP_NET_RAW but no libpcap.
func OpenAFPacket(iface types.Interface) (Device, error) {
	ifi, err := net.InterfaceByName(iface.Name)
	if err != nil {
		return nil, types.NewInterfaceError(err, "interface %q not found", iface.Name)
	}

	conn, err := packet.Listen(ifi, packet.Raw, etherTypeARP, nil)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
			return nil, types.NewPermissionError(err, "raw access to %q denied, run with elevated privileges", iface.Name)
		}
		return nil, ClassifyOpenError(iface.Name, err)
	}

	return &packetDevice{
		conn:    conn,
		timeout: DefaultTimeout,
		buf:     make([]byte, DefaultSnapLen),
	}, nil
}

func (d *packetDevice) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}
	n, _, err := d.conn.ReadFrom(d.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, gopacket.CaptureInfo{}, ErrTimeout
		}
		return nil, gopacket.CaptureInfo{}, err
	}

	data := make([]byte, n)
	copy(data, d.buf[:n])
	return data, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: n, Length: n}, nil
}

func (d *packetDevice) WritePacketData(data []byte) error {
	if len(data) < 6 {
		return errors.New("frame shorter than an ethernet address")
	}
	_, err := d.conn.WriteTo(data, &packet.Addr{HardwareAddr: net.HardwareAddr(data[:6])})
	return err
}

func (d *packetDevice) Close() {
	_ = d.conn.Close()
}
