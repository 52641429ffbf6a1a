package runner

import (
	"errors"
	"net/netip"
)

var (
	errNoMode      = errors.New("nothing to do, use -list, -scan, -target or -spoof-all")
	errNoInterface = errors.New("an interface is required (-interface)")
	errNoGateway   = errors.New("a gateway is required (-gateway)")
)

func (options *Options) validate() error {
	if options.List {
		return nil
	}
	if !options.Scan && !options.SpoofAll && options.Target == "" {
		return errNoMode
	}
	if options.Interface == "" {
		return errNoInterface
	}
	if (options.SpoofAll || options.Target != "") && options.Gateway == "" {
		return errNoGateway
	}
	for _, ip := range []string{options.Target, options.Gateway} {
		if ip == "" {
			continue
		}
		if addr, err := netip.ParseAddr(ip); err != nil || !addr.Unmap().Is4() {
			return errors.New("invalid ipv4 address: " + ip)
		}
	}
	if options.Devices != "" && !options.SpoofAll {
		return errors.New("-devices requires -spoof-all")
	}
	return nil
}
