package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSendTimeout bounds one scheduled SendCommand call.
const DefaultSendTimeout = 10 * time.Second

var (
	ErrInvalidEntry = errors.New("invalid schedule entry")
	ErrNoInstance   = errors.New("no such instance")
)

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate parses expr with the scheduler's cron grammar: five fields,
// an optional leading seconds field, or a descriptor like "@every 15m".
func Validate(expr string) error {
	if _, err := specParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

// CommandSender is what a scheduled entry talks to.
type CommandSender interface {
	SendCommand(ctx context.Context, text string) error
}

// Resolver maps an instance name to its sender at fire time.
type Resolver func(instance string) (CommandSender, bool)

// Entry sends Command to Instance on every Cron tick.
type Entry struct {
	Instance string
	Cron     string
	Command  string
}

// Scheduler fires console commands at running instances on cron schedules.
// A tick is skipped while the previous send of the same entry is in flight.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	resolve Resolver
	entries map[cron.EntryID]Entry
	timeout time.Duration
	started bool
}

func New(resolve Resolver, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		resolve: resolve,
		entries: make(map[cron.EntryID]Entry),
		timeout: DefaultSendTimeout,
	}
}

// Add registers e. It may be called before or after Start.
func (s *Scheduler) Add(e Entry) (cron.EntryID, error) {
	if e.Instance == "" || e.Command == "" {
		return 0, fmt.Errorf("%w: instance and command are required", ErrInvalidEntry)
	}
	if err := Validate(e.Cron); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	id, err := s.cron.AddFunc(e.Cron, func() { s.fire(e) })
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
	slog.Info("command scheduled", "instance", e.Instance, "cron", e.Cron, "command", e.Command)
	return id, nil
}

func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Entries returns the registered entries keyed by id.
func (s *Scheduler) Entries() map[cron.EntryID]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[cron.EntryID]Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// Next returns the next activation of id, or the zero time before Start.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight sends or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) fire(e Entry) {
	sender, ok := s.resolve(e.Instance)
	if !ok {
		slog.Warn("scheduled command skipped", "instance", e.Instance, "command", e.Command, "error", ErrNoInstance)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := sender.SendCommand(ctx, e.Command); err != nil {
		slog.Warn("scheduled command failed", "instance", e.Instance, "command", e.Command, "error", err)
		return
	}
	slog.Debug("scheduled command sent", "instance", e.Instance, "command", e.Command)
}
