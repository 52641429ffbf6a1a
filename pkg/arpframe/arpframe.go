package arpframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// EthernetHeaderLen is the length of an untagged Ethernet header
	EthernetHeaderLen = 14
	// PayloadLen is the length of an ARP payload for IPv4 over Ethernet
	PayloadLen = 28
	// MinFrameLen is the smallest frame that can carry an ARP payload
	MinFrameLen = EthernetHeaderLen + PayloadLen
)

// Operation is the ARP opcode
type Operation uint16

const (
	OperationRequest Operation = layers.ARPRequest
	OperationReply   Operation = layers.ARPReply
)

func (o Operation) String() string {
	switch o {
	case OperationRequest:
		return "request"
	case OperationReply:
		return "reply"
	default:
		return fmt.Sprintf("op(%d)", uint16(o))
	}
}

var (
	// Broadcast is the Ethernet broadcast address
	Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	// ZeroMAC is the unknown target hardware address used in requests
	ZeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}
)

var (
	ErrShortFrame = errors.New("frame too short for arp")
	ErrNotARP     = errors.New("frame is not arp for ipv4 over ethernet")
)

// Frame is an Ethernet frame carrying an ARP payload
type Frame struct {
	EthSrc    net.HardwareAddr
	EthDst    net.HardwareAddr
	Operation Operation
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
}

// Request builds a broadcast who-has frame for target
func Request(senderMAC net.HardwareAddr, senderIP, target netip.Addr) Frame {
	return Frame{
		EthSrc:    senderMAC,
		EthDst:    Broadcast,
		Operation: OperationRequest,
		SenderMAC: senderMAC,
		SenderIP:  senderIP,
		TargetMAC: ZeroMAC,
		TargetIP:  target,
	}
}

// Reply builds a unicast is-at frame telling dstMAC/dstIP that claimedIP is at claimedMAC.
// The Ethernet source is claimedMAC.
func Reply(claimedMAC net.HardwareAddr, claimedIP netip.Addr, dstMAC net.HardwareAddr, dstIP netip.Addr) Frame {
	return Frame{
		EthSrc:    claimedMAC,
		EthDst:    dstMAC,
		Operation: OperationReply,
		SenderMAC: claimedMAC,
		SenderIP:  claimedIP,
		TargetMAC: dstMAC,
		TargetIP:  dstIP,
	}
}

// Encode serializes the frame. Addresses are normalized to their fixed
// widths, so the output always holds a 14 byte header and a 28 byte payload,
// padded to the Ethernet minimum frame size.
func Encode(f Frame) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       fixedMAC(f.EthSrc),
		DstMAC:       fixedMAC(f.EthDst),
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         uint16(f.Operation),
		SourceHwAddress:   fixedMAC(f.SenderMAC),
		SourceProtAddress: fixedIPv4(f.SenderIP),
		DstHwAddress:      fixedMAC(f.TargetMAC),
		DstProtAddress:    fixedIPv4(f.TargetIP),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		// only reachable with malformed address widths, which fixedMAC/fixedIPv4 rule out
		panic(fmt.Sprintf("arpframe: serialize: %v", err))
	}
	return buf.Bytes()
}

// Decode parses an ARP frame. Frames shorter than MinFrameLen yield
// ErrShortFrame, anything that is not ARP for IPv4 over Ethernet yields ErrNotARP.
func Decode(data []byte) (Frame, error) {
	if len(data) < MinFrameLen {
		return Frame{}, ErrShortFrame
	}
	// reject on the fixed header fields before handing the frame to gopacket
	if binary.BigEndian.Uint16(data[12:14]) != uint16(layers.EthernetTypeARP) ||
		binary.BigEndian.Uint16(data[14:16]) != uint16(layers.LinkTypeEthernet) ||
		binary.BigEndian.Uint16(data[16:18]) != uint16(layers.EthernetTypeIPv4) ||
		data[18] != 6 || data[19] != 4 {
		return Frame{}, ErrNotARP
	}

	var (
		eth     layers.Ethernet
		arp     layers.ARP
		decoded []gopacket.LayerType
	)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &arp)
	parser.IgnoreUnsupported = true
	if err := parser.DecodeLayers(data, &decoded); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrNotARP, err)
	}

	hasARP := false
	for _, lt := range decoded {
		if lt == layers.LayerTypeARP {
			hasARP = true
		}
	}
	if !hasARP || eth.EthernetType != layers.EthernetTypeARP {
		return Frame{}, ErrNotARP
	}
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 ||
		arp.HwAddressSize != 6 || arp.ProtAddressSize != 4 {
		return Frame{}, ErrNotARP
	}
	op := Operation(arp.Operation)
	if op != OperationRequest && op != OperationReply {
		return Frame{}, ErrNotARP
	}

	senderIP, _ := netip.AddrFromSlice(arp.SourceProtAddress)
	targetIP, _ := netip.AddrFromSlice(arp.DstProtAddress)
	return Frame{
		EthSrc:    cloneMAC(eth.SrcMAC),
		EthDst:    cloneMAC(eth.DstMAC),
		Operation: op,
		SenderMAC: cloneMAC(arp.SourceHwAddress),
		SenderIP:  senderIP,
		TargetMAC: cloneMAC(arp.DstHwAddress),
		TargetIP:  targetIP,
	}, nil
}

func fixedMAC(mac net.HardwareAddr) net.HardwareAddr {
	out := make(net.HardwareAddr, 6)
	copy(out, mac)
	return out
}

func fixedIPv4(addr netip.Addr) []byte {
	addr = addr.Unmap()
	if !addr.Is4() {
		return make([]byte, 4)
	}
	b := addr.As4()
	return b[:]
}

func cloneMAC(b []byte) net.HardwareAddr {
	out := make(net.HardwareAddr, len(b))
	copy(out, b)
	return out
}
