package arpframe

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", s, err)
	}
	return mac
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	attacker := mustMAC(t, "02:00:00:00:00:0a")
	target := mustMAC(t, "aa:bb:cc:dd:ee:ff")

	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "broadcast request",
			frame: Request(attacker, netip.MustParseAddr("192.168.1.10"), netip.MustParseAddr("192.168.1.50")),
		},
		{
			name:  "forged reply",
			frame: Reply(attacker, netip.MustParseAddr("192.168.1.1"), target, netip.MustParseAddr("192.168.1.50")),
		},
		{
			name: "explicit fields",
			frame: Frame{
				EthSrc:    mustMAC(t, "00:11:22:33:44:55"),
				EthDst:    mustMAC(t, "66:77:88:99:aa:bb"),
				Operation: OperationReply,
				SenderMAC: mustMAC(t, "00:11:22:33:44:55"),
				SenderIP:  netip.MustParseAddr("10.0.0.1"),
				TargetMAC: mustMAC(t, "66:77:88:99:aa:bb"),
				TargetIP:  netip.MustParseAddr("10.255.255.254"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := Encode(tt.frame)
			if len(raw) < MinFrameLen {
				t.Fatalf("Encode() length = %d, want at least %d", len(raw), MinFrameLen)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			assertFrameEqual(t, got, tt.frame)

			// the unpadded 42 byte form must decode identically
			got, err = Decode(raw[:MinFrameLen])
			if err != nil {
				t.Fatalf("Decode(unpadded) error = %v", err)
			}
			assertFrameEqual(t, got, tt.frame)
		})
	}
}

func assertFrameEqual(t *testing.T, got, want Frame) {
	t.Helper()
	if got.Operation != want.Operation {
		t.Errorf("Operation = %v, want %v", got.Operation, want.Operation)
	}
	if got.SenderIP != want.SenderIP || got.TargetIP != want.TargetIP {
		t.Errorf("IPs = %s/%s, want %s/%s", got.SenderIP, got.TargetIP, want.SenderIP, want.TargetIP)
	}
	for _, pair := range [][2]net.HardwareAddr{
		{got.EthSrc, want.EthSrc},
		{got.EthDst, want.EthDst},
		{got.SenderMAC, want.SenderMAC},
		{got.TargetMAC, want.TargetMAC},
	} {
		if !bytes.Equal(pair[0], pair[1]) {
			t.Errorf("MAC = %s, want %s", pair[0], pair[1])
		}
	}
}

func TestDecodeRejectsShortFrames(t *testing.T) {
	raw := Encode(Request(mustMAC(t, "02:00:00:00:00:0a"), netip.MustParseAddr("192.168.1.10"), netip.MustParseAddr("192.168.1.1")))
	for n := 0; n < MinFrameLen; n++ {
		if _, err := Decode(raw[:n]); !errors.Is(err, ErrShortFrame) {
			t.Fatalf("Decode(%d bytes) error = %v, want ErrShortFrame", n, err)
		}
	}
}

func TestDecodeRejectsMismatchedTypes(t *testing.T) {
	valid := Encode(Reply(mustMAC(t, "02:00:00:00:00:0a"), netip.MustParseAddr("192.168.1.1"), mustMAC(t, "aa:bb:cc:dd:ee:ff"), netip.MustParseAddr("192.168.1.50")))

	tests := []struct {
		name   string
		mutate func(b []byte)
	}{
		{name: "ipv4 ethertype", mutate: func(b []byte) { b[12], b[13] = 0x08, 0x00 }},
		{name: "hardware type", mutate: func(b []byte) { b[14], b[15] = 0x00, 0x06 }},
		{name: "protocol type", mutate: func(b []byte) { b[16], b[17] = 0x86, 0xdd }},
		{name: "hardware length", mutate: func(b []byte) { b[18] = 8 }},
		{name: "protocol length", mutate: func(b []byte) { b[19] = 16 }},
		{name: "unknown operation", mutate: func(b []byte) { b[20], b[21] = 0x00, 0x09 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := append([]byte(nil), valid...)
			tt.mutate(raw)
			if _, err := Decode(raw); !errors.Is(err, ErrNotARP) {
				t.Errorf("Decode() error = %v, want ErrNotARP", err)
			}
		})
	}
}

func TestEncodeNormalizesWidths(t *testing.T) {
	f := Frame{
		EthSrc:    net.HardwareAddr{0x02},
		EthDst:    Broadcast,
		Operation: OperationRequest,
		SenderMAC: net.HardwareAddr{0x02},
		SenderIP:  netip.MustParseAddr("::ffff:192.168.1.10"),
		TargetIP:  netip.MustParseAddr("192.168.1.20"),
	}
	got, err := Decode(Encode(f))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.SenderIP != netip.MustParseAddr("192.168.1.10") {
		t.Errorf("SenderIP = %s, want unmapped ipv4", got.SenderIP)
	}
	if !bytes.Equal(got.SenderMAC, net.HardwareAddr{0x02, 0, 0, 0, 0, 0}) {
		t.Errorf("SenderMAC = %s, want zero padded", got.SenderMAC)
	}
	if !bytes.Equal(got.TargetMAC, ZeroMAC) {
		t.Errorf("TargetMAC = %s, want zero", got.TargetMAC)
	}
}
