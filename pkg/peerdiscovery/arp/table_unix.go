//go:build !windows

package arp

import (
	"fmt"
	"os"
	"os/exec"

	osutils "github.com/projectdiscovery/utils/os"
)

// ReadSystemTable reads the operating system's ARP cache (Linux and macOS)
func ReadSystemTable() ([]Entry, error) {
	switch {
	case osutils.IsLinux():
		data, err := os.ReadFile("/proc/net/arp")
		if err != nil {
			return nil, err
		}
		return parseLinuxTable(string(data))
	case osutils.IsOSX():
		output, err := exec.Command("arp", "-an").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to execute arp -an: %w", err)
		}
		return parseDarwinTable(string(output))
	default:
		return nil, fmt.Errorf("unsupported OS")
	}
}
