package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/loykin/mineguard/internal/instance"
	"github.com/loykin/mineguard/internal/schedule"
)

var (
	ErrNotFound  = errors.New("server not found")
	ErrDuplicate = errors.New("server already registered")
)

// Fleet is the set of servers one supervisor manages, addressable by
// display name or UUID.
type Fleet struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

func NewFleet(servers ...*Server) (*Fleet, error) {
	f := &Fleet{servers: make(map[string]*Server)}
	for _, s := range servers {
		if err := f.Add(s); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Add registers s under its UUID. Display names must be unique as well.
func (f *Fleet) Add(s *Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := s.Config().UUID.String()
	if _, ok := f.servers[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	name := s.Name()
	for _, o := range f.servers {
		if o.Name() == name {
			return fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
	}
	f.servers[id] = s
	return nil
}

// Get looks a server up by UUID first, then by display name.
func (f *Fleet) Get(key string) (*Server, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.servers[key]; ok {
		return s, true
	}
	for _, s := range f.servers {
		if s.Name() == key {
			return s, true
		}
	}
	return nil, false
}

// Remove unregisters a server and closes its observer.
func (f *Fleet) Remove(key string) error {
	s, ok := f.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	f.mu.Lock()
	delete(f.servers, s.Config().UUID.String())
	f.mu.Unlock()
	return s.Close()
}

// List returns servers sorted by display name.
func (f *Fleet) List() []*Server {
	f.mu.RLock()
	out := make([]*Server, 0, len(f.servers))
	for _, s := range f.servers {
		out = append(out, s)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Resolver adapts the fleet for the command scheduler.
func (f *Fleet) Resolver() schedule.Resolver {
	return func(key string) (schedule.CommandSender, bool) {
		s, ok := f.Get(key)
		if !ok {
			return nil, false
		}
		return s, true
	}
}

// StopAll gracefully stops every live server, killing any that do not stop
// before ctx is done.
func (f *Fleet) StopAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range f.List() {
		if !s.Status().Live() {
			continue
		}
		wg.Add(1)
		go func(s *Server) {
			defer wg.Done()
			err := s.Stop(ctx)
			if err == nil || errors.Is(err, instance.ErrNotRunning) {
				return
			}
			slog.Warn("graceful stop failed, killing", "instance", s.Name(), "error", err)
			if kerr := s.Kill(context.Background()); kerr != nil && !errors.Is(kerr, instance.ErrNotRunning) {
				mu.Lock()
				errs = append(errs, kerr)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close closes every server's observer. Children are left alone.
func (f *Fleet) Close() error {
	var errs []error
	for _, s := range f.List() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
