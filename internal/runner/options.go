package runner

import (
	"os"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	"github.com/projectdiscovery/kancut/pkg/engine"
	"github.com/projectdiscovery/kancut/pkg/enrich"
	"github.com/projectdiscovery/kancut/pkg/link"
	"github.com/projectdiscovery/kancut/pkg/peerdiscovery/arp"
	"github.com/projectdiscovery/kancut/pkg/spoof"
	"github.com/projectdiscovery/kancut/pkg/version"
	envutil "github.com/projectdiscovery/utils/env"
	osutils "github.com/projectdiscovery/utils/os"
)

var au *aurora.Aurora

var (
	BackendEnv     = envutil.GetEnvOrDefault("KANCUT_BACKEND", link.BackendPcap)
	SweepWindowEnv = envutil.GetEnvOrDefault("KANCUT_SWEEP_WINDOW", "")
	SpoofPeriodEnv = envutil.GetEnvOrDefault("KANCUT_SPOOF_PERIOD", "")
)

// Options contains the configuration options of a kancut run
type Options struct {
	ConfigFile string
	Backend    string

	Interface string
	Target    string
	Gateway   string
	Devices   string

	List     bool
	Scan     bool
	SpoofAll bool

	SweepWindow     time.Duration
	BurstSize       int
	MaxHosts        int
	SystemCache     bool
	ResolveAttempts int
	ResolveTimeout  time.Duration
	NoEnrich        bool
	NoMDNS          bool
	HostnameTimeout time.Duration

	Period         time.Duration
	MaxFailures    int
	Parallelism    int
	Duration       time.Duration
	Restore        bool
	StatusInterval time.Duration

	JSON     bool
	EventLog string
	Silent   bool
	NoColor  bool
	Verbose  bool
	Debug    bool
	Version  bool
}

// ParseOptions parses the command line flags provided by a user
func ParseOptions() *Options {
	options := &Options{}
	flagSet := goflags.NewFlagSet()

	flagSet.SetDescription(`kancut discovers hosts on the local segment and poisons ARP caches between a target and its gateway`)

	flagSet.CreateGroup("input", "Input",
		flagSet.StringVarP(&options.Interface, "interface", "i", "", "network interface to operate on"),
		flagSet.StringVarP(&options.Target, "target", "t", "", "target ip to spoof"),
		flagSet.StringVarP(&options.Gateway, "gateway", "g", "", "gateway ip the target talks to"),
		flagSet.StringVarP(&options.Devices, "devices", "d", "", "json file with the devices to spoof (spoof-all)"),
	)

	flagSet.CreateGroup("mode", "Mode",
		flagSet.BoolVarP(&options.List, "list", "li", false, "list network interfaces"),
		flagSet.BoolVarP(&options.Scan, "scan", "s", false, "sweep the interface subnet for hosts"),
		flagSet.BoolVarP(&options.SpoofAll, "spoof-all", "sa", false, "spoof every device (from -devices, or a fresh scan)"),
	)

	flagSet.CreateGroup("discovery", "Discovery",
		flagSet.DurationVarP(&options.SweepWindow, "sweep-window", "sw", parseDurationEnv(SweepWindowEnv, arp.DefaultWindow), "time to collect arp replies during a sweep"),
		flagSet.IntVarP(&options.BurstSize, "burst-size", "bs", arp.DefaultBurstSize, "arp requests sent per burst"),
		flagSet.IntVarP(&options.MaxHosts, "max-hosts", "mh", arp.DefaultMaxHosts, "larger subnets are narrowed to the local /24"),
		flagSet.BoolVarP(&options.SystemCache, "system-arp-cache", "sac", false, "merge the operating system arp cache into scan results"),
		flagSet.IntVarP(&options.ResolveAttempts, "resolve-attempts", "ra", arp.DefaultAttempts, "arp requests per mac resolution"),
		flagSet.DurationVarP(&options.ResolveTimeout, "resolve-timeout", "rt", arp.DefaultAttemptTimeout, "wait per resolution attempt"),
		flagSet.BoolVarP(&options.NoEnrich, "no-enrich", "ne", false, "skip hostname and vendor lookups"),
		flagSet.BoolVar(&options.NoMDNS, "no-mdns", false, "skip multicast dns hostname lookups"),
		flagSet.DurationVarP(&options.HostnameTimeout, "hostname-timeout", "ht", enrich.DefaultTimeout, "timeout per hostname lookup"),
	)

	flagSet.CreateGroup("spoofing", "Spoofing",
		flagSet.DurationVarP(&options.Period, "period", "p", parseDurationEnv(SpoofPeriodEnv, spoof.DefaultPeriod), "interval between forged replies"),
		flagSet.IntVarP(&options.MaxFailures, "max-failures", "mf", spoof.DefaultMaxFailures, "consecutive failing ticks before a session stops"),
		flagSet.IntVarP(&options.Parallelism, "parallel", "c", 8, "concurrent session starts for spoof-all"),
		flagSet.DurationVarP(&options.Duration, "duration", "du", 0, "stop spoofing after this long (0 runs until interrupted)"),
		flagSet.BoolVarP(&options.Restore, "restore", "r", true, "re-announce the real macs when spoofing ends"),
		flagSet.DurationVarP(&options.StatusInterval, "status-interval", "si", 10*time.Second, "interval between session status tables (0 disables)"),
	)

	flagSet.CreateGroup("output", "Output",
		flagSet.BoolVarP(&options.JSON, "json", "j", false, "write results as json lines"),
		flagSet.StringVarP(&options.EventLog, "event-log", "el", "", "append session lifecycle events to a json lines file"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only results in output"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
	)

	flagSet.CreateGroup("config", "Config",
		flagSet.StringVar(&options.ConfigFile, "config", "", "cli flag configuration file"),
		flagSet.StringVarP(&options.Backend, "backend", "b", BackendEnv, "raw socket backend (pcap, afpacket)"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "show verbose output"),
		flagSet.BoolVar(&options.Debug, "debug", false, "show per frame and per tick output"),
	)

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}
	if options.ConfigFile != "" {
		if err := flagSet.MergeConfigFile(options.ConfigFile); err != nil {
			gologger.Fatal().Msgf("Could not read config: %s\n", err)
		}
	}

	au = aurora.New(aurora.WithColors(true))
	options.configureOutput()

	showBanner()

	if options.Version {
		gologger.Info().Msgf("Current Version: %s\n", version.GetVersion())
		os.Exit(0)
	}

	if err := options.validate(); err != nil {
		gologger.Fatal().Msgf("Program exiting: %s\n", err)
	}

	if !osutils.IsWindows() && os.Geteuid() != 0 {
		gologger.Warning().Msgf("not running as root, raw socket access will likely be denied")
	}

	return options
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
	if options.Debug {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
	}
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
		au = aurora.New(aurora.WithColors(false))
	}
	if options.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}
}

// engineOptions maps the flags onto the engine configuration
func (options *Options) engineOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.Backend = options.Backend
	opts.SweepWindow = options.SweepWindow
	opts.BurstSize = options.BurstSize
	if options.MaxHosts > 0 {
		opts.MaxHosts = uint64(options.MaxHosts)
	}
	opts.SystemCache = options.SystemCache
	opts.ResolveAttempts = options.ResolveAttempts
	opts.ResolveTimeout = options.ResolveTimeout
	opts.SpoofPeriod = options.Period
	opts.MaxFailures = options.MaxFailures
	opts.SpoofParallelism = options.Parallelism
	opts.Enrich = !options.NoEnrich
	opts.EnrichOptions.MDNS = !options.NoMDNS
	opts.EnrichOptions.Timeout = options.HostnameTimeout
	return opts
}

func parseDurationEnv(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		gologger.Warning().Msgf("ignoring invalid duration %q", value)
		return fallback
	}
	return d
}
