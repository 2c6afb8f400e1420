// Opsloopd is the opsloop daemon.
//
// It runs the autonomy loop, the scheduled maintenance jobs (rule
// analysis, approved fact injection, queue archival) and an HTTP server
// exposing /health, /metrics and the JSON API until it receives SIGINT
// or SIGTERM.
//
// Usage:
//
//	# Dry-run every directive (default)
//	opsloopd --config opsloop.yaml
//
//	# Execute directives
//	opsloopd --live --interval 10m
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/opsloop/internal/config"
	ophttp "github.com/fyrsmithlabs/opsloop/internal/http"
	"github.com/fyrsmithlabs/opsloop/internal/jobs"
	"github.com/fyrsmithlabs/opsloop/internal/logging"
	"github.com/fyrsmithlabs/opsloop/internal/services"
	"github.com/fyrsmithlabs/opsloop/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

type options struct {
	configPath  string
	live        bool
	interval    time.Duration
	metricsAddr string
	noHTTP      bool
}

func main() {
	var opts options
	fs := flag.NewFlagSet("opsloopd", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "config file (default ./opsloop.yaml if present)")
	fs.BoolVar(&opts.live, "live", false, "execute directives instead of dry runs")
	fs.DurationVar(&opts.interval, "interval", 0, "autonomy loop interval (default from config)")
	fs.StringVar(&opts.metricsAddr, "addr", "", "HTTP listen address (default from config)")
	fs.BoolVar(&opts.noHTTP, "no-http", false, "disable the HTTP server")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("opsloopd %s (%s)\n", version, gitCommit)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "opsloopd: %v\n", err)
		os.Exit(1)
	}
}

// run wires the services and blocks until ctx is cancelled or a worker
// fails.
func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		cfg.Server.MetricsAddr = opts.metricsAddr
	}

	logCfg, err := logging.FromConfig(cfg.Logging, "daemon")
	if err != nil {
		return err
	}
	log, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()
	logger := log.Underlying()

	tel := telemetry.New(ctx, cfg.Telemetry, version, telemetry.WithLogger(logger.Named("telemetry")))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	reg, err := services.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("closing services", zap.Error(err))
		}
	}()

	loop := reg.Loop(opts.live, opts.interval)
	scheduler, err := newScheduler(reg, logger.Named("jobs"))
	if err != nil {
		return err
	}

	logger.Info("starting opsloopd",
		zap.String("version", version),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Bool("live", opts.live || cfg.Autonomy.Live),
		zap.String("http_addr", cfg.Server.MetricsAddr),
		zap.Bool("tracing", tel.Enabled()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })

	if !opts.noHTTP {
		srv, err := ophttp.NewServer(reg, logger.Named("http"), &ophttp.Config{Addr: cfg.Server.MetricsAddr})
		if err != nil {
			return err
		}
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("opsloopd stopped", zap.Error(err))
	return err
}

// newScheduler registers the maintenance jobs.
func newScheduler(reg *services.Registry, logger *zap.Logger) (*jobs.Scheduler, error) {
	cfg := reg.Config().Jobs
	s := jobs.NewScheduler(logger)
	for _, job := range []jobs.Job{
		{
			Name:     "analyze",
			Schedule: cfg.AnalyzeSchedule,
			Run: func(ctx context.Context) error {
				_, err := reg.Rules().Analyze(ctx)
				return err
			},
		},
		{
			Name:     "process_approved",
			Schedule: cfg.ProcessSchedule,
			Run: func(ctx context.Context) error {
				_, err := reg.Knowledge().ProcessApproved(ctx)
				return err
			},
		},
		{
			Name:     "archive",
			Schedule: cfg.ArchiveSchedule,
			Run: func(ctx context.Context) error {
				_, err := reg.Queue().Archive(ctx)
				return err
			},
		},
	} {
		if _, err := s.Add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}
