//go:build !linux

package link

import "github.com/projectdiscovery/kancut/pkg/types"

// OpenAFPacket is only available on linux
func OpenAFPacket(iface types.Interface) (Device, error) {
	return nil, types.NewConfigurationError(nil, "the %s backend is only available on linux", BackendAFPacket)
}
