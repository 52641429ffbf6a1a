package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/engine"
	"github.com/projectdiscovery/kancut/pkg/eventlog"
	"github.com/projectdiscovery/kancut/pkg/types"
)

// Runner contains the internal logic of the program
type Runner struct {
	options *Options
	engine  *engine.Engine
	events  *eventlog.Log

	closeOnce sync.Once
}

// NewRunner instance
func NewRunner(options *Options) (*Runner, error) {
	r := &Runner{options: options}
	engineOptions := options.engineOptions()
	if options.EventLog != "" {
		events, err := eventlog.Open(options.EventLog)
		if err != nil {
			return nil, err
		}
		r.events = events
		engineOptions.Events = events
	}
	e, err := engine.New(engineOptions)
	if err != nil {
		if r.events != nil {
			_ = r.events.Close()
		}
		return nil, err
	}
	r.engine = e
	return r, nil
}

// Run the instance
func (r *Runner) Run(ctx context.Context) error {
	switch {
	case r.options.List:
		interfaces, err := r.engine.ListInterfaces()
		if err != nil {
			return err
		}
		r.printInterfaces(interfaces)
		return nil
	case r.options.SpoofAll:
		return r.spoofAll(ctx)
	case r.options.Target != "":
		return r.spoof(ctx)
	case r.options.Scan:
		devices, err := r.engine.ScanNetwork(ctx, r.options.Interface)
		if err != nil {
			return err
		}
		r.printDevices(devices)
		return nil
	}
	return errNoMode
}

func (r *Runner) spoof(ctx context.Context) error {
	id, err := r.engine.StartSpoofing(ctx, r.options.Target, r.options.Gateway, r.options.Interface)
	if err != nil {
		return err
	}
	if r.options.JSON {
		r.writeJSON(map[string]string{"session_id": id})
	}
	return r.hold(ctx)
}

func (r *Runner) spoofAll(ctx context.Context) error {
	var devices []types.Device
	if r.options.Devices != "" {
		loaded, err := loadDevices(r.options.Devices)
		if err != nil {
			return err
		}
		devices = loaded
	} else {
		scanned, err := r.engine.ScanNetwork(ctx, r.options.Interface)
		if err != nil {
			return err
		}
		r.printDevices(scanned)
		devices = scanned
	}

	result, err := r.engine.StartSpoofAll(ctx, devices, r.options.Gateway, r.options.Interface)
	if err != nil {
		return err
	}
	if r.options.JSON {
		r.writeJSON(result)
	}
	if len(result.SessionIDs) == 0 {
		return errors.New("no session could be started")
	}
	return r.hold(ctx)
}

// hold keeps the sessions running until ctx ends, the duration elapses or
// every session stopped on its own, then stops and optionally restores them
func (r *Runner) hold(ctx context.Context) error {
	var expired <-chan time.Time
	if r.options.Duration > 0 {
		timer := time.NewTimer(r.options.Duration)
		defer timer.Stop()
		expired = timer.C
	}
	var status <-chan time.Time
	if r.options.StatusInterval > 0 {
		ticker := time.NewTicker(r.options.StatusInterval)
		defer ticker.Stop()
		status = ticker.C
	}
	watch := time.NewTicker(time.Second)
	defer watch.Stop()

	r.printSessions(r.engine.ActiveSessions())
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-expired:
			gologger.Info().Msgf("duration of %s elapsed", r.options.Duration)
			break loop
		case <-status:
			r.printSessions(r.engine.ActiveSessions())
		case <-watch.C:
			if len(r.engine.ActiveSessions()) == 0 {
				return errors.New("all sessions stopped")
			}
		}
	}
	r.stopAll()
	return nil
}

func (r *Runner) stopAll() {
	sessions := r.engine.ActiveSessions()
	for _, s := range sessions {
		r.engine.StopSpoofing(s.ID)
	}
	if !r.options.Restore {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range sessions {
		if err := r.engine.Restore(ctx, s); err != nil {
			gologger.Warning().Msgf("could not restore %s: %s", s.TargetIP, err)
			continue
		}
		gologger.Info().Msgf("restored arp caches of %s and %s", s.TargetIP, s.GatewayIP)
	}
}

// Close releases every resource held by the runner
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		r.engine.Close()
		if r.events == nil {
			return
		}
		if err := r.events.Close(); err != nil {
			gologger.Warning().Msgf("could not close event log: %s", err)
		}
	})
}
