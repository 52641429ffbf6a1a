package arp

import (
	"bufio"
	"net"
	"net/netip"
	"strings"
)

// Entry is one IP to MAC binding from the operating system's ARP cache
type Entry struct {
	IP  netip.Addr
	MAC net.HardwareAddr
}

// parseLinuxTable parses the contents of /proc/net/arp
func parseLinuxTable(data string) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(strings.NewReader(data))

	// header line
	if !scanner.Scan() {
		return entries, scanner.Err()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// IP address, HW type, Flags, HW address, Mask, Device
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		if e, ok := newEntry(fields[0], fields[3]); ok {
			entries = append(entries, e)
		}
	}

	return entries, scanner.Err()
}

// parseDarwinTable parses `arp -a` output on macOS, lines look like
// "? (192.168.1.1) at aa:bb:cc:dd:ee:ff on en0 ifscope [ethernet]"
func parseDarwinTable(data string) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(strings.NewReader(data))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		ipStart := strings.Index(line, "(")
		ipEnd := strings.Index(line, ")")
		if ipStart == -1 || ipEnd == -1 || ipStart >= ipEnd {
			continue
		}
		atIndex := strings.Index(line, " at ")
		if atIndex == -1 {
			continue
		}
		rest := strings.Fields(line[atIndex+4:])
		if len(rest) == 0 || rest[0] == "(incomplete)" {
			continue
		}
		if e, ok := newEntry(line[ipStart+1:ipEnd], padMAC(rest[0])); ok {
			entries = append(entries, e)
		}
	}

	return entries, scanner.Err()
}

// parseWindowsTable parses `arp -a` output on Windows. Entries follow an
// "Internet Address  Physical Address  Type" header inside each interface section.
func parseWindowsTable(data string) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(strings.NewReader(data))

	inTable := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, "Internet Address") && strings.Contains(line, "Physical Address") {
			inTable = true
			continue
		}
		if strings.HasPrefix(line, "Interface:") {
			inTable = false
			continue
		}
		if !inTable {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if e, ok := newEntry(fields[0], strings.ReplaceAll(fields[1], "-", ":")); ok {
			entries = append(entries, e)
		}
	}

	return entries, scanner.Err()
}

func newEntry(ipStr, macStr string) (Entry, bool) {
	ip, err := netip.ParseAddr(ipStr)
	if err != nil || !ip.Unmap().Is4() {
		return Entry{}, false
	}
	mac, err := net.ParseMAC(macStr)
	if err != nil || len(mac) != 6 {
		return Entry{}, false
	}
	if isAll(mac, 0x00) || isAll(mac, 0xff) {
		return Entry{}, false
	}
	return Entry{IP: ip.Unmap(), MAC: mac}, true
}

// padMAC restores the leading zeros macOS drops, "a:b:c:d:e:1" -> "0a:0b:0c:0d:0e:01"
func padMAC(s string) string {
	parts := strings.Split(s, ":")
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}

func isAll(mac net.HardwareAddr, b byte) bool {
	for _, v := range mac {
		if v != b {
			return false
		}
	}
	return true
}
