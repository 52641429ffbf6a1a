package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/types"
)

func (r *Runner) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		gologger.Error().Msgf("could not marshal output: %s", err)
		return
	}
	gologger.Silent().Msg(string(data))
}

func (r *Runner) printInterfaces(interfaces []types.Interface) {
	for _, iface := range interfaces {
		if r.options.JSON {
			r.writeJSON(iface)
			continue
		}
		state := au.Green("up").String()
		if !iface.Up {
			state = au.Red("down").String()
		}
		ips := make([]string, 0, len(iface.Addresses))
		for _, p := range iface.Addresses {
			ips = append(ips, p.String())
		}
		gologger.Silent().Msgf("%s [%s] [%s] [%s] %s", au.Bold(iface.Name), iface.MAC, strings.Join(ips, ","), state, iface.Description)
	}
}

func (r *Runner) printDevices(devices []types.Device) {
	for _, d := range devices {
		if r.options.JSON {
			r.writeJSON(d)
			continue
		}
		line := fmt.Sprintf("%s [%s] [%s]", au.Bold(d.IP), au.Cyan(d.MAC), d.Vendor)
		if d.Hostname != "" {
			line += fmt.Sprintf(" [%s]", au.Yellow(d.Hostname))
		}
		gologger.Silent().Msg(line)
	}
}

func (r *Runner) printSessions(sessions []types.SessionSnapshot) {
	if r.options.JSON {
		for _, s := range sessions {
			r.writeJSON(s)
		}
		return
	}
	for _, s := range sessions {
		gologger.Info().Msgf("%s %s <-> %s via %s [%s] packets=%s since %s", s.ID, s.TargetIP, s.GatewayIP, s.Interface, colorState(s.State), humanize.Comma(int64(s.PacketsSent)), humanize.Time(s.CreatedAt))
	}
}

func colorState(state types.SessionState) aurora.Value {
	switch state {
	case types.StateActive:
		return au.Green(state.String())
	case types.StateStopping:
		return au.Yellow(state.String())
	default:
		return au.Red(state.String())
	}
}
