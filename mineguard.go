package mineguard

import (
	"context"
	"net/http"
	"time"

	"github.com/loykin/mineguard/internal/api"
	cfg "github.com/loykin/mineguard/internal/config"
	"github.com/loykin/mineguard/internal/history"
	"github.com/loykin/mineguard/internal/instance"
	"github.com/loykin/mineguard/internal/manifest"
	"github.com/loykin/mineguard/internal/metrics"
	"github.com/loykin/mineguard/internal/parser"
	"github.com/loykin/mineguard/internal/schedule"
	"github.com/loykin/mineguard/internal/server"
	"github.com/loykin/mineguard/internal/stream"
	"github.com/loykin/mineguard/internal/version"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Handle = instance.Handle

type Data = instance.Data

type Option = instance.Option

type Status = instance.Status

type Event = instance.Event

type StateChange = instance.StateChange

type StdLine = instance.StdLine

type Semantic = instance.Semantic

type Source = stream.Source

type Signal = parser.Signal

type Version = version.Version

type Release = version.Release

type Snapshot = version.Snapshot

type ServerType = version.ServerType

type Server = server.Server

type ServerOptions = server.Options

type Fleet = server.Fleet

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Scheduler = schedule.Scheduler

type ScheduleEntry = schedule.Entry

const (
	Stopped  = instance.Stopped
	Starting = instance.Starting
	Running  = instance.Running
	Stopping = instance.Stopping
	Crashed  = instance.Crashed
	Killing  = instance.Killing
	Killed   = instance.Killed

	Stdout = stream.Stdout
	Stderr = stream.Stderr
	Events = stream.Event

	Vanilla = version.Vanilla

	ServerStarted = parser.ServerStarted
)

var (
	WithName           = instance.WithName
	WithJava           = instance.WithJava
	WithJVMArgs        = instance.WithJVMArgs
	WithEnv            = instance.WithEnv
	WithCommand        = instance.WithCommand
	WithSettleDelay    = instance.WithSettleDelay
	WithCapacity       = instance.WithCapacity
	WithConsoleWriters = instance.WithConsoleWriters
	WithParser         = instance.WithParser
)

// New builds a supervisor for the server installed at d.
func New(d Data, opts ...Option) (*Handle, error) { return instance.New(d, opts...) }

func ParseVersion(s string) (Version, error) { return version.Parse(s) }

func ParseServerType(s string) (ServerType, error) { return version.ParseServerType(s) }

// Create installs a new server under dir from the official version catalog.
func Create(ctx context.Context, dir string, v Version, t ServerType, opts ServerOptions) (*Server, error) {
	return server.Create(ctx, dir, v, t, manifest.NewClient(), opts)
}

func Load(root string, opts ServerOptions) (*Server, error) { return server.Load(root, opts) }

func LoadAll(dir string, opts ServerOptions) ([]*Server, error) { return server.LoadAll(dir, opts) }

func NewFleet(servers ...*Server) (*Fleet, error) { return server.NewFleet(servers...) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySink opens a sqlite (path or sqlite://) or postgres:// history store.
func NewHistorySink(dsn string) (*history.SQLSink, error) { return history.NewSinkFromDSN(dsn) }

// NewScheduler fires console commands at fleet members on cron schedules.
func NewScheduler(f *Fleet) *Scheduler { return schedule.New(f.Resolver(), nil) }

// NewHandler returns the HTTP control API for f, mountable in any mux.
func NewHandler(f *Fleet, basePath string) http.Handler {
	return api.NewRouter(f, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics runs an HTTP server on addr exposing /metrics from the default
// registry in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
