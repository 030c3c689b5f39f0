package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/loykin/mineguard/internal/config"
	"github.com/loykin/mineguard/internal/history"
	"github.com/loykin/mineguard/internal/instance"
	"github.com/loykin/mineguard/internal/manifest"
	"github.com/loykin/mineguard/internal/server"
	"github.com/loykin/mineguard/internal/version"
)

// createTimeout bounds catalog lookup plus the jar download.
const createTimeout = 10 * time.Minute

type command struct {
	out io.Writer
}

func (c command) writer() io.Writer {
	if c.out != nil {
		return c.out
	}
	return os.Stdout
}

func (c command) printJSON(v any) {
	enc := json.NewEncoder(c.writer())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// loadConfig reads path, or falls back to defaults rooted at the working
// directory when no file is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	abs, err := filepath.Abs(cfg.InstancesDir)
	if err != nil {
		return nil, err
	}
	cfg.InstancesDir = abs
	return cfg, nil
}

// instanceOptions translates daemon config into per-handle options.
func instanceOptions(cfg *config.Config) ([]instance.Option, error) {
	env, err := cfg.ChildEnv()
	if err != nil {
		return nil, fmt.Errorf("child environment: %w", err)
	}
	return []instance.Option{
		instance.WithJava(cfg.Java),
		instance.WithJVMArgs(cfg.JVMArgs...),
		instance.WithEnv(env),
		instance.WithSettleDelay(cfg.SettleDelay),
		instance.WithCapacity(cfg.ChannelCapacity),
	}, nil
}

// Create installs a new server under the configured instances directory.
func (c command) Create(f CreateFlags) error {
	if f.Version == "" {
		return fmt.Errorf("--version is required")
	}
	v, err := version.Parse(f.Version)
	if err != nil {
		return err
	}
	t, err := version.ParseServerType(f.Type)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.InstancesDir, 0o750); err != nil {
		return fmt.Errorf("failed to create instances_dir %s: %w", cfg.InstancesDir, err)
	}
	mc := manifest.NewClient()
	if f.ManifestURL != "" {
		mc.URL = f.ManifestURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), createTimeout)
	defer cancel()
	s, err := server.Create(ctx, cfg.InstancesDir, v, t, mc, server.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if f.Name != "" {
		if err := s.Rename(f.Name); err != nil {
			return err
		}
	}
	if f.AcceptEULA {
		if err := s.AcceptEULA(); err != nil {
			return err
		}
	}
	cfgOut := s.Config()
	_, _ = fmt.Fprintf(c.writer(), "Server '%s' (%s) created in %s\n", s.Name(), cfgOut.MCVersion, cfgOut.ServerDir)
	return nil
}

// List prints the servers found on disk.
func (c command) List(f ListFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if _, err := os.Stat(cfg.InstancesDir); os.IsNotExist(err) {
		_, _ = fmt.Fprintln(c.writer(), "no servers")
		return nil
	}
	servers, err := server.LoadAll(cfg.InstancesDir, server.Options{})
	if err != nil {
		return err
	}
	fleet, err := server.NewFleet(servers...)
	if err != nil {
		return err
	}
	defer func() { _ = fleet.Close() }()

	tw := tabwriter.NewWriter(c.writer(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tUUID\tVERSION\tTYPE\tEULA\tDIR")
	for _, s := range fleet.List() {
		sc := s.Config()
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", s.Name(), sc.UUID, sc.MCVersion, sc.MCType, s.EULAAccepted(), sc.ServerDir)
	}
	return tw.Flush()
}

// EULA accepts the Minecraft EULA for one server on disk.
func (c command) EULA(f EULAFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	servers, err := server.LoadAll(cfg.InstancesDir, server.Options{})
	if err != nil {
		return err
	}
	fleet, err := server.NewFleet(servers...)
	if err != nil {
		return err
	}
	defer func() { _ = fleet.Close() }()
	s, ok := fleet.Get(f.Name)
	if !ok {
		return fmt.Errorf("%w: %s", server.ErrNotFound, f.Name)
	}
	if err := s.AcceptEULA(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.writer(), "EULA accepted for '%s'\n", s.Name())
	return nil
}

// ParseVersion reports how a version string is understood.
func (c command) ParseVersion(s string) error {
	v, err := version.Parse(s)
	if err != nil {
		return err
	}
	switch v := v.(type) {
	case version.Release:
		c.printJSON(map[string]any{"kind": "release", "major": v.Major, "minor": v.Minor, "patch": v.Patch, "display": v.String()})
	case version.Snapshot:
		c.printJSON(map[string]any{"kind": "snapshot", "year": v.Year, "week": v.Week, "build": string(v.Build), "display": v.String()})
	}
	return nil
}

func apiClient(f APIFlags, wait time.Duration) (*APIClient, error) {
	timeout := f.APITimeout
	// the daemon holds the request open for up to wait
	if wait > 0 && timeout < wait+10*time.Second {
		timeout = wait + 10*time.Second
	}
	cl := NewAPIClient(f.APIUrl, timeout)
	if f.CACert != "" || f.Insecure {
		if err := cl.ConfigureTLS(f.CACert, f.Insecure); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

func (c command) Status(f LifecycleFlags) error {
	cl, err := apiClient(f.APIFlags, 0)
	if err != nil {
		return err
	}
	if f.Name == "" {
		list, err := cl.List()
		if err != nil {
			return err
		}
		c.printJSON(list)
		return nil
	}
	st, err := cl.Status(f.Name)
	if err != nil {
		return err
	}
	c.printJSON(st)
	return nil
}

func (c command) Start(f LifecycleFlags) error {
	if f.Name == "" {
		return fmt.Errorf("server name is required")
	}
	cl, err := apiClient(f.APIFlags, f.Wait)
	if err != nil {
		return err
	}
	st, err := cl.Start(f.Name, f.Wait)
	if err != nil {
		return err
	}
	c.printJSON(st)
	return nil
}

func (c command) Stop(f LifecycleFlags) error {
	if f.Name == "" {
		return fmt.Errorf("server name is required")
	}
	cl, err := apiClient(f.APIFlags, f.Wait)
	if err != nil {
		return err
	}
	st, err := cl.Stop(f.Name, f.Wait)
	if err != nil {
		return err
	}
	c.printJSON(st)
	return nil
}

func (c command) Kill(f LifecycleFlags) error {
	if f.Name == "" {
		return fmt.Errorf("server name is required")
	}
	cl, err := apiClient(f.APIFlags, 0)
	if err != nil {
		return err
	}
	st, err := cl.Kill(f.Name)
	if err != nil {
		return err
	}
	c.printJSON(st)
	return nil
}

func (c command) Send(f SendFlags) error {
	if f.Name == "" || f.Command == "" {
		return fmt.Errorf("server name and command are required")
	}
	cl, err := apiClient(f.APIFlags, 0)
	if err != nil {
		return err
	}
	if err := cl.SendCommand(f.Name, f.Command); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.writer(), "Sent to '%s': %s\n", f.Name, f.Command)
	return nil
}

// History prints recorded state changes, read from the configured DSN or
// through the daemon.
func (c command) History(f HistoryFlags) error {
	if f.Remote {
		cl, err := apiClient(f.APIFlags, 0)
		if err != nil {
			return err
		}
		evs, err := cl.History(f.Name, f.Limit)
		if err != nil {
			return err
		}
		c.printJSON(evs)
		return nil
	}
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.History.DSN == "" {
		return fmt.Errorf("history.dsn is not configured")
	}
	sink, err := history.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()
	evs, err := sink.Recent(context.Background(), f.Name, f.Limit)
	if err != nil {
		return err
	}
	if evs == nil {
		evs = []history.Event{}
	}
	c.printJSON(evs)
	return nil
}
