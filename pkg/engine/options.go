package engine

import (
	"time"

	"github.com/projectdiscovery/kancut/pkg/enrich"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/arp"
	"github.com/projectdiscovery/kancut/pkg/spoof"
	"github.com/projectdiscovery/kancut/pkg/types"
)

// Options configures an Engine
type Options struct {
	// Backend names the raw socket backend, see link.OpenerFor
	Backend string
	// Opener and Lookup override the backend and the interface lookup
	Opener link.Opener
	Lookup link.Lookup
	// Interfaces overrides interface enumeration
	Interfaces func() ([]types.Interface, error)

	SweepWindow time.Duration
	BurstSize   int
	MaxHosts    uint64
	SystemCache bool

	ResolveAttempts int
	ResolveTimeout  time.Duration

	SpoofPeriod      time.Duration
	MaxFailures      int
	SpoofParallelism int
	StopTimeout      time.Duration

	Enrich        bool
	EnrichOptions enrich.Options

	// Events receives session lifecycle events when set
	Events Recorder
}

// Recorder consumes session lifecycle events, *eventlog.Log satisfies it
type Recorder interface {
	Record(event types.SessionEvent)
}

// DefaultOptions returns the options used by the command line
func DefaultOptions() Options {
	return Options{
		Backend:          link.BackendPcap,
		SweepWindow:      arp.DefaultWindow,
		BurstSize:        arp.DefaultBurstSize,
		MaxHosts:         arp.DefaultMaxHosts,
		ResolveAttempts:  arp.DefaultAttempts,
		ResolveTimeout:   arp.DefaultAttemptTimeout,
		SpoofPeriod:      spoof.DefaultPeriod,
		MaxFailures:      spoof.DefaultMaxFailures,
		SpoofParallelism: 8,
		StopTimeout:      5 * time.Second,
		Enrich:           true,
		EnrichOptions: enrich.Options{
			Timeout: enrich.DefaultTimeout,
			MDNS:    true,
		},
	}
}

func (o Options) validate() error {
	switch {
	case o.SweepWindow < 0:
		return types.NewConfigurationError(nil, "sweep window must not be negative")
	case o.SpoofPeriod < 0:
		return types.NewConfigurationError(nil, "spoof period must not be negative")
	case o.BurstSize < 0:
		return types.NewConfigurationError(nil, "burst size must not be negative")
	case o.ResolveAttempts < 0:
		return types.NewConfigurationError(nil, "resolve attempts must not be negative")
	case o.MaxFailures < 0:
		return types.NewConfigurationError(nil, "max failures must not be negative")
	}
	return nil
}
