package run

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/saveenergy/connflurry/internal/config"
)

type flagValues struct {
	host        string
	port        string
	concurrency int
	total       uint64
	verbose     bool
	bind        string
	staleAfter  time.Duration
	tickTimeout time.Duration
	timeout     time.Duration
	configPath  string
	json        bool
	noColor     bool
	monitor     string
	results     string
	logLevel    string
	help        bool
	version     bool
}

// flag aliases that set the same field under a long name
var flagAliases = map[string]string{
	"c": "concurrency",
	"t": "total",
	"p": "port",
	"v": "verbose",
	"b": "bind",
	"h": "help",
}

func parseFlags(args []string, stderr io.Writer) (*flagValues, map[string]bool, error) {
	fv := &flagValues{}
	flagsSet := make(map[string]bool)

	flagSet := flag.NewFlagSet("connflurry", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.Usage = func() { printUsage(stderr) }

	flagSet.IntVar(&fv.concurrency, "c", config.DefaultConcurrency, "Concurrent connection attempts")
	flagSet.IntVar(&fv.concurrency, "concurrency", config.DefaultConcurrency, "Concurrent connection attempts")
	flagSet.Uint64Var(&fv.total, "t", config.DefaultTotal, "Total established connections to reach")
	flagSet.Uint64Var(&fv.total, "total", config.DefaultTotal, "Total established connections to reach")
	flagSet.StringVar(&fv.port, "p", config.DefaultPort, "Target port")
	flagSet.StringVar(&fv.port, "port", config.DefaultPort, "Target port")
	flagSet.BoolVar(&fv.verbose, "v", false, "Log every connection event")
	flagSet.BoolVar(&fv.verbose, "verbose", false, "Log every connection event")
	flagSet.StringVar(&fv.bind, "b", "", "Comma-separated local source addresses, rotated per attempt")
	flagSet.StringVar(&fv.bind, "bind", "", "Comma-separated local source addresses, rotated per attempt")
	flagSet.DurationVar(&fv.staleAfter, "stale", config.DefaultStaleAfter, "Reclaim attempts that have not completed after this long")
	flagSet.DurationVar(&fv.tickTimeout, "tick", config.DefaultTickTimeout, "Maximum readiness wait per loop iteration")
	flagSet.DurationVar(&fv.timeout, "timeout", 0, "Overall run limit (0 = none)")
	flagSet.StringVar(&fv.configPath, "config", "", "YAML config file")
	flagSet.BoolVar(&fv.json, "json", false, "Print the run report as JSON")
	flagSet.BoolVar(&fv.noColor, "no-color", false, "Disable color output")
	flagSet.StringVar(&fv.monitor, "monitor", "", "Serve /metrics, /snapshot and /ws on this address during the run")
	flagSet.StringVar(&fv.results, "results", "", "Append the run report to this SQLite file")
	flagSet.StringVar(&fv.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flagSet.BoolVar(&fv.help, "h", false, "Show help")
	flagSet.BoolVar(&fv.help, "help", false, "Show help")
	flagSet.BoolVar(&fv.version, "version", false, "Print version")

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	flagSet.Visit(func(f *flag.Flag) {
		name := f.Name
		if long, ok := flagAliases[name]; ok {
			name = long
		}
		flagsSet[name] = true
	})

	rest := flagSet.Args()
	if len(rest) > 1 {
		return nil, nil, fmt.Errorf("too many positional arguments: %v", rest)
	}
	if len(rest) == 1 {
		fv.host = rest[0]
	}
	return fv, flagsSet, nil
}

// mergeConfig layers defaults, the config file, the environment and
// explicitly set flags, in that order.
func mergeConfig(fv *flagValues, flagsSet map[string]bool) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if fv.configPath != "" {
		if err := cfg.LoadFile(fv.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if fv.host != "" {
		cfg.Host = fv.host
	}
	if flagsSet["concurrency"] {
		cfg.Concurrency = fv.concurrency
	}
	if flagsSet["total"] {
		cfg.Total = fv.total
	}
	if flagsSet["port"] {
		cfg.Port = fv.port
	}
	if flagsSet["verbose"] {
		cfg.Verbose = fv.verbose
	}
	if flagsSet["bind"] {
		cfg.BindAddresses = config.SplitList(fv.bind)
	}
	if flagsSet["stale"] {
		cfg.StaleAfter = fv.staleAfter
	}
	if flagsSet["tick"] {
		cfg.TickTimeout = fv.tickTimeout
	}
	if flagsSet["timeout"] {
		cfg.Timeout = fv.timeout
	}
	if flagsSet["json"] {
		cfg.JSON = fv.json
	}
	if flagsSet["no-color"] {
		cfg.NoColor = fv.noColor
	}
	if flagsSet["monitor"] {
		cfg.MonitorAddress = fv.monitor
	}
	if flagsSet["results"] {
		cfg.ResultsDB = fv.results
	}
	if flagsSet["log-level"] {
		cfg.LogLevel = fv.logLevel
	}
	return cfg, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `USAGE: connflurry [-c concurrent_connections] [-t total_connections] [-p port] [-v] hostname

Opens connections to hostname:port as fast as possible, keeping at most
-c attempts in flight, until -t connections have been established.

Options:
  -c, -concurrency <n>  Concurrent connection attempts (default 1)
  -t, -total <n>        Established connections to reach (default 1)
  -p, -port <port>      Target port (default 80)
  -v, -verbose          Log every connection event
  -b, -bind <a,b,...>   Local source addresses, rotated per attempt
  -stale <dur>          Reclaim attempts older than this (default 5s)
  -tick <dur>           Readiness wait per loop iteration (default 10ms)
  -timeout <dur>        Overall run limit (default none)
  -config <file>        YAML config file
  -json                 Print the run report as JSON
  -no-color             Disable color output
  -monitor <addr>       Serve /metrics, /snapshot and /ws during the run
  -results <file>       Append the run report to a SQLite archive
  -log-level <level>    debug, info, warn, error

Environment:
  FLURRY_HOST, FLURRY_PORT, FLURRY_CONCURRENCY, FLURRY_TOTAL,
  FLURRY_BIND_ADDRESSES, FLURRY_STALE_AFTER, FLURRY_TICK_TIMEOUT,
  FLURRY_TIMEOUT, FLURRY_MONITOR_ADDR, FLURRY_RESULTS_DB, LOG_LEVEL, NO_COLOR
`)
}
