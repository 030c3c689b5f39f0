package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/loykin/mineguard/internal/broadcast"
	"github.com/loykin/mineguard/internal/history"
	"github.com/loykin/mineguard/internal/instance"
	"github.com/loykin/mineguard/internal/logger"
	"github.com/loykin/mineguard/internal/manifest"
	"github.com/loykin/mineguard/internal/metrics"
	"github.com/loykin/mineguard/internal/stream"
	"github.com/loykin/mineguard/internal/version"
	"vawter.tech/stopper"
)

// Creation errors.
var (
	ErrDirectory       = errors.New("server directory error")
	ErrManifest        = manifest.ErrManifest
	ErrVersionNotFound = manifest.ErrVersionNotFound
	ErrNetwork         = manifest.ErrNetwork
	ErrCreation        = errors.New("server creation failed")
)

// Options wires optional collaborators into every loaded server.
type Options struct {
	Instance []instance.Option
	Console  logger.Config
	History  history.Sink
	Sampler  *metrics.Sampler
}

// Server is an on-disk installation plus its supervisor.
type Server struct {
	mu  sync.RWMutex
	cfg Config

	handle  *instance.Handle
	opts    Options
	watch   *stopper.Context
	closers []io.Closer
	procLog *slog.Logger
}

// Create installs a new server of version v under a fresh UUID directory in
// dir, downloading the jar through mc.
func Create(ctx context.Context, dir string, v version.Version, t version.ServerType, mc *manifest.Client, opts Options) (*Server, error) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectory, dir)
	}
	if t != version.Vanilla {
		return nil, fmt.Errorf("%w: %v", version.ErrUnknownServerType, t)
	}

	id := uuid.New()
	root := filepath.Join(dir, id.String())
	if err := os.MkdirAll(filepath.Join(root, InternalDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(root)
		}
	}()

	art, err := mc.ServerArtifact(ctx, v)
	if err != nil {
		return nil, err
	}
	if err := mc.Download(ctx, art, filepath.Join(root, DefaultJar)); err != nil {
		return nil, err
	}

	cfg := Config{
		UUID:      id,
		ServerDir: root,
		JarPath:   DefaultJar,
		MCVersion: v.String(),
		MCType:    t,
	}
	if err := cfg.Write(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	s, err := newServer(cfg, opts)
	if err != nil {
		return nil, err
	}
	ok = true
	slog.Info("server created", "uuid", id, "version", cfg.MCVersion, "dir", root)
	return s, nil
}

// Load reconstructs the server whose sidecar lives under root.
func Load(root string, opts Options) (*Server, error) {
	cfg, err := ReadConfig(ConfigPath(root))
	if err != nil {
		return nil, err
	}
	// the sidecar may have been moved with its directory
	cfg.ServerDir = root
	return newServer(cfg, opts)
}

// LoadAll loads every server directory directly under dir. Directories
// without a sidecar are skipped; broken ones are logged and skipped.
func LoadAll(dir string, opts Options) ([]*Server, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	var out []*Server
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		root := filepath.Join(dir, e.Name())
		if _, err := os.Stat(ConfigPath(root)); err != nil {
			continue
		}
		s, err := Load(root, opts)
		if err != nil {
			slog.Warn("skipping server", "dir", root, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func newServer(cfg Config, opts Options) (*Server, error) {
	v, err := version.Parse(cfg.MCVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreation, err)
	}
	name := cfg.InstanceName()
	s := &Server{cfg: cfg, opts: opts}

	iopts := append([]instance.Option{instance.WithName(name)}, opts.Instance...)
	outW, errW, err := opts.Console.ProcessWriters(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreation, err)
	}
	var stdoutW, stderrW io.Writer
	if outW != nil {
		stdoutW = outW
		s.closers = append(s.closers, outW)
	}
	if errW != nil {
		stderrW = errW
		s.closers = append(s.closers, errW)
	}
	if stdoutW != nil || stderrW != nil {
		iopts = append(iopts, instance.WithConsoleWriters(stdoutW, stderrW))
	}

	h, err := instance.New(instance.Data{
		RootDir: cfg.ServerDir,
		JarPath: cfg.JarPath,
		Version: v,
		Type:    cfg.MCType,
	}, iopts...)
	if err != nil {
		s.closeWriters()
		return nil, err
	}
	s.handle = h
	s.procLog = opts.Console.NewProcessLogger(name)
	s.watch = stopper.WithContext(context.Background())
	rx, err := h.Subscribe(stream.Event)
	if err != nil {
		s.closeWriters()
		return nil, err
	}
	s.watch.Go(func(ctx *stopper.Context) error { return s.observe(ctx, rx) })
	return s, nil
}

// observe records every state change in history and keeps the resource
// sampler pointed at the live child.
func (s *Server) observe(ctx *stopper.Context, rx *broadcast.Receiver[instance.Event]) error {
	name := s.Name()
	for {
		ev, err := rx.Next(ctx.Stopping())
		if err != nil {
			var lag *broadcast.LaggedError
			if errors.As(err, &lag) {
				metrics.AddLagged(name, stream.Event.String(), lag.Skipped)
				continue
			}
			return nil
		}
		sc, ok := ev.Payload.(instance.StateChange)
		if !ok {
			continue
		}
		pid := s.handle.PID()
		if s.procLog != nil {
			s.procLog.Info("state change", "from", sc.Old.String(), "to", sc.New.String(), "pid", pid)
		}
		if s.opts.Sampler != nil {
			switch {
			case sc.New == instance.Running && pid > 0:
				s.opts.Sampler.Track(name, int32(pid))
			case sc.New.Terminal():
				s.opts.Sampler.Untrack(name)
			}
		}
		if s.opts.History != nil {
			sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.opts.History.Send(sendCtx, history.Event{
				ID:         ev.ID.String(),
				OccurredAt: ev.Timestamp,
				Instance:   name,
				ServerUUID: s.cfg.UUID.String(),
				From:       sc.Old.String(),
				To:         sc.New.String(),
				PID:        pid,
			})
			cancel()
			if err != nil {
				slog.Warn("history send failed", "instance", name, "error", err)
			}
		}
	}
}

// Config returns a copy of the sidecar record.
func (s *Server) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) Name() string { return s.Config().InstanceName() }

func (s *Server) Handle() *instance.Handle { return s.handle }

// Rename sets the display name and persists it. Metrics and logs keep the
// name the handle was built with until the server is reloaded.
func (s *Server) Rename(name string) error {
	s.mu.Lock()
	s.cfg.Name = name
	s.mu.Unlock()
	return s.WriteConfig()
}

// WriteConfig persists the sidecar.
func (s *Server) WriteConfig() error {
	return s.Config().Write()
}

// AcceptEULA writes eula.txt with eula=true; the server refuses to start
// without it.
func (s *Server) AcceptEULA() error {
	p := filepath.Join(s.Config().ServerDir, eulaFile)
	return renameio.WriteFile(p, []byte("eula=true\n"), 0o644)
}

// EULAAccepted reports whether eula.txt contains eula=true.
func (s *Server) EULAAccepted() bool {
	b, err := os.ReadFile(filepath.Join(s.Config().ServerDir, eulaFile))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(b), "\n") {
		if strings.EqualFold(strings.TrimSpace(line), "eula=true") {
			return true
		}
	}
	return false
}

func (s *Server) Start(ctx context.Context) error { return s.handle.Start(ctx) }
func (s *Server) Stop(ctx context.Context) error  { return s.handle.Stop(ctx) }
func (s *Server) Kill(ctx context.Context) error  { return s.handle.Kill(ctx) }
func (s *Server) Status() instance.Status         { return s.handle.Status() }

func (s *Server) SendCommand(ctx context.Context, text string) error {
	return s.handle.SendCommand(ctx, text)
}

func (s *Server) Subscribe(src stream.Source) (*broadcast.Receiver[instance.Event], error) {
	return s.handle.Subscribe(src)
}

// Close ends the observer and closes console mirror files. It does not stop
// the child.
func (s *Server) Close() error {
	s.watch.Stop(100 * time.Millisecond)
	err := s.watch.Wait()
	s.closeWriters()
	return err
}

func (s *Server) closeWriters() {
	for _, c := range s.closers {
		_ = c.Close()
	}
	s.closers = nil
}
