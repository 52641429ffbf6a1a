package runner

import (
	"fmt"
	"os"

	"github.com/projectdiscovery/kancut/pkg/types"
	"github.com/tidwall/gjson"
)

// loadDevices reads a device list for spoof-all. Accepted shapes are the
// json output of a scan (one object per line), an array of device objects,
// an object with a "devices" array, or an array of ip strings.
func loadDevices(path string) ([]types.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read devices file: %w", err)
	}
	return parseDevices(data)
}

func parseDevices(data []byte) ([]types.Device, error) {
	var devices []types.Device
	add := func(value gjson.Result) {
		switch {
		case value.Type == gjson.String:
			devices = append(devices, types.Device{IP: value.String()})
		case value.IsObject() && value.Get("ip").Exists():
			devices = append(devices, types.Device{
				IP:       value.Get("ip").String(),
				MAC:      value.Get("mac").String(),
				Hostname: value.Get("hostname").String(),
				Vendor:   value.Get("vendor").String(),
			})
		}
	}

	if gjson.ValidBytes(data) {
		root := gjson.ParseBytes(data)
		if list := root.Get("devices"); list.IsArray() {
			root = list
		}
		if root.IsArray() {
			root.ForEach(func(_, value gjson.Result) bool {
				add(value)
				return true
			})
		} else {
			add(root)
		}
	} else {
		gjson.ForEachLine(string(data), func(line gjson.Result) bool {
			add(line)
			return true
		})
	}

	if len(devices) == 0 {
		return nil, types.NewConfigurationError(nil, "no devices found in input")
	}
	return devices, nil
}
