//go:build linux

// Package run implements `connflurry run`, the default command: open
// connections to one target as fast as possible until a count is reached.
package run

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/saveenergy/connflurry/internal/config"
	"github.com/saveenergy/connflurry/internal/flurry"
	"github.com/saveenergy/connflurry/internal/logging"
	"github.com/saveenergy/connflurry/internal/monitor"
	"github.com/saveenergy/connflurry/internal/results"
	"github.com/saveenergy/connflurry/pkg/types"
)

var (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

func Run(args []string, version string) int {
	return run(args, version, os.Stdout, os.Stderr)
}

func run(args []string, version string, stdout, stderr io.Writer) int {
	fv, flagsSet, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "connflurry: %v\n", err)
		printUsage(stderr)
		return exitUsage
	}
	if fv.help {
		printUsage(stdout)
		return exitSuccess
	}
	if fv.version {
		fmt.Fprintf(stdout, "connflurry %s\n", version)
		return exitSuccess
	}

	cfg, err := mergeConfig(fv, flagsSet)
	if err != nil {
		fmt.Fprintf(stderr, "connflurry: %v\n", err)
		return exitUsage
	}
	if cfg.Host == "" {
		printUsage(stderr)
		return exitUsage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "connflurry: invalid configuration: %v\n", err)
		return exitUsage
	}

	logging.Init(cfg.Level())
	logging.GetLogger().SetLevel(cfg.Level())
	logging.GetLogger().SetOutput(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter := selectFormatter(cfg, stdout, stderr)
	report, err := execute(ctx, cfg, formatter)
	if report != nil {
		formatter.FormatComplete(*report)
		archive(cfg, *report)
	}
	if err != nil {
		formatter.FormatError(err)
		return exitFailure
	}
	return exitSuccess
}

func selectFormatter(cfg *config.Config, stdout, stderr io.Writer) OutputFormatter {
	if cfg.JSON {
		return NewJSONFormatter(stdout, stderr)
	}
	if f, ok := stdout.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return NewInteractiveFormatter(stdout, stderr, cfg.NoColor)
	}
	return NewPlainFormatter(stdout, stderr)
}

// progress forwards pool outcomes to the formatter and the monitor.
type progress struct {
	formatter OutputFormatter
	monitor   *monitor.Server
}

func (p *progress) OnEstablished(stats flurry.RunStats, connectLatency time.Duration) {
	p.formatter.FormatEstablished(stats.Established)
	if p.monitor != nil {
		p.monitor.ObserveConnect(connectLatency)
	}
}

func (p *progress) OnFailed(flurry.RunStats) {
	p.formatter.FormatFailed()
}

// execute drives one run. The report is nil only when the pool could not
// be set up.
func execute(ctx context.Context, cfg *config.Config, formatter OutputFormatter) (*types.RunReport, error) {
	logger := logging.NewLogger("flurry")
	localAddrs, err := cfg.ParsedBindAddresses()
	if err != nil {
		return nil, err
	}

	var (
		mon *monitor.Server
		ln  net.Listener
	)
	if cfg.MonitorAddress != "" {
		ln, err = net.Listen("tcp", cfg.MonitorAddress)
		if err != nil {
			return nil, fmt.Errorf("monitor listen: %w", err)
		}
		mon = monitor.New(logging.NewLogger("monitor"))
	}

	pool, err := flurry.NewConnectionPool(flurry.Options{
		Target:      flurry.NewTarget(cfg.Host, cfg.Port),
		Concurrency: cfg.Concurrency,
		Total:       cfg.Total,
		LocalAddrs:  localAddrs,
		StaleAfter:  cfg.StaleAfter,
		TickTimeout: cfg.TickTimeout,
		Payload:     []byte(cfg.Payload),
		Logger:      logger,
		Observer:    &progress{formatter: formatter, monitor: mon},
	})
	if err != nil {
		if ln != nil {
			ln.Close()
		}
		return nil, err
	}
	defer pool.Close()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	monCtx, stopMonitor := context.WithCancel(gctx)
	defer stopMonitor()

	if mon != nil {
		g.Go(func() error {
			return mon.Serve(monCtx, ln)
		})
	}

	var report types.RunReport
	formatter.FormatStart(pool.Target().String(), pool.Size(), cfg.Total)
	g.Go(func() error {
		defer stopMonitor()
		opts := flurry.RunOptions{RunID: uuid.NewString(), Logger: logger}
		if mon != nil {
			opts.Publish = mon.Publish
		}
		var runErr error
		report, runErr = flurry.Run(gctx, pool, opts)
		if mon != nil {
			mon.Finish(report)
		}
		return runErr
	})

	err = g.Wait()
	return &report, err
}

// archive appends report to the results file when one is configured. A
// failed save is logged and does not change the exit status.
func archive(cfg *config.Config, report types.RunReport) {
	if cfg.ResultsDB == "" {
		return
	}
	logger := logging.NewLogger("results")
	store, err := results.Open(cfg.ResultsDB, cfg.MaxResults, logger)
	if err != nil {
		logger.Warn("results archive unavailable", logging.F("path", cfg.ResultsDB), logging.F("error", err))
		return
	}
	defer store.Close()

	id, err := store.Save(report)
	if err != nil {
		logger.Warn("results save failed", logging.F("error", err))
		return
	}
	logger.Info("run archived", logging.F("run_id", id), logging.F("path", cfg.ResultsDB))
}
