//go:build windows

package arp

import (
	"fmt"
	"os/exec"
)

// ReadSystemTable reads the operating system's ARP cache
func ReadSystemTable() ([]Entry, error) {
	output, err := exec.Command("arp", "-a").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute arp -a: %w", err)
	}
	return parseWindowsTable(string(output))
}
