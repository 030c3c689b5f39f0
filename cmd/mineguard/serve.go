package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/mineguard/internal/api"
	"github.com/loykin/mineguard/internal/config"
	"github.com/loykin/mineguard/internal/history"
	"github.com/loykin/mineguard/internal/logger"
	"github.com/loykin/mineguard/internal/metrics"
	"github.com/loykin/mineguard/internal/schedule"
	"github.com/loykin/mineguard/internal/server"
	"github.com/loykin/mineguard/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	autostartTimeout = 5 * time.Minute
	shutdownTimeout  = 90 * time.Second
)

// daemon is everything "serve" owns, torn down in reverse order.
type daemon struct {
	cfg       *config.Config
	fleet     *server.Fleet
	sink      *history.SQLSink
	sampler   *metrics.Sampler
	scheduler *schedule.Scheduler
	servers   []*http.Server
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	logger.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := startDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	d.autostart(flags.Autostart)

	<-ctx.Done()
	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.shutdown(sctx)
}

// startDaemon loads every server and brings up metrics, history, the
// scheduler and the HTTP listeners.
func startDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	d := &daemon{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = d.shutdown(sctx)
		}
	}()

	iopts, err := instanceOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts := server.Options{Instance: iopts, Console: cfg.Log}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			slog.Warn("failed to register metrics", "error", err)
		}
		d.sampler = metrics.NewSampler(metrics.SamplerConfig{
			Enabled:    true,
			Interval:   cfg.Metrics.SampleInterval,
			MaxHistory: cfg.Metrics.MaxHistory,
		})
		if err := d.sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			slog.Warn("failed to register process metrics", "error", err)
		}
		d.sampler.Start(ctx)
		opts.Sampler = d.sampler
	}

	if cfg.History.DSN != "" {
		d.sink, err = history.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		opts.History = d.sink
	}

	if err := os.MkdirAll(cfg.InstancesDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create instances_dir %s: %w", cfg.InstancesDir, err)
	}
	servers, err := server.LoadAll(cfg.InstancesDir, opts)
	if err != nil {
		return nil, err
	}
	if d.fleet, err = server.NewFleet(servers...); err != nil {
		return nil, err
	}
	slog.Info("servers loaded", "count", len(servers), "dir", cfg.InstancesDir)

	d.scheduler = schedule.New(d.fleet.Resolver(), nil)
	for _, sc := range cfg.Schedules {
		if _, err := d.scheduler.Add(sc.Entry()); err != nil {
			return nil, err
		}
	}
	d.scheduler.Start()
	if len(cfg.Schedules) > 0 {
		slog.Info("scheduler started", "entries", len(cfg.Schedules))
	}

	if err := d.listen(); err != nil {
		return nil, err
	}
	ok = true
	return d, nil
}

func (d *daemon) listen() error {
	cfg := d.cfg
	var mounted bool
	if cfg.API.Enabled {
		tc, err := tls.Setup(cfg.API)
		if err != nil {
			return fmt.Errorf("api tls: %w", err)
		}
		var ropts []api.RouterOption
		if d.sink != nil {
			ropts = append(ropts, api.WithHistory(d.sink))
		}
		if d.sampler != nil {
			ropts = append(ropts, api.WithSampler(d.sampler))
		}
		mux := http.NewServeMux()
		mux.Handle("/", api.NewRouter(d.fleet, cfg.API.BasePath, ropts...).Handler())
		if cfg.Metrics.Enabled && (cfg.Metrics.Listen == "" || cfg.Metrics.Listen == cfg.API.Listen) {
			mux.Handle("/metrics", metrics.Handler())
			mounted = true
		}
		d.servers = append(d.servers, api.NewServer(cfg.API.Listen, mux, tc))
		slog.Info("api listening", "addr", cfg.API.Listen, "base", cfg.API.BasePath, "tls", tc != nil)
	}
	if cfg.Metrics.Enabled && !mounted && cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		d.servers = append(d.servers, api.NewServer(cfg.Metrics.Listen, mux, nil))
		slog.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}
	return nil
}

// autostart starts the named servers concurrently and logs failures.
func (d *daemon) autostart(names []string) {
	for _, name := range names {
		s, ok := d.fleet.Get(name)
		if !ok {
			slog.Warn("autostart: unknown server", "name", name)
			continue
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), autostartTimeout)
			defer cancel()
			if err := s.Start(ctx); err != nil {
				slog.Error("autostart failed", "instance", s.Name(), "error", err)
			}
		}()
	}
}

func (d *daemon) shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range d.servers {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if d.scheduler != nil {
		d.scheduler.Stop(ctx)
	}
	if d.fleet != nil {
		if err := d.fleet.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := d.fleet.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.sampler != nil {
		d.sampler.Stop()
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
