package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/mineguard/internal/broadcast"
	"github.com/loykin/mineguard/internal/metrics"
	"github.com/loykin/mineguard/internal/stream"
	"vawter.tech/stopper"
)

const (
	internalBuffer = 1024
	queueBuffer    = 1024
	stopGrace      = 100 * time.Millisecond
)

// Handle supervises one server child process. Start, Stop and Kill are
// serialized internally; SendCommand, Subscribe and the accessors may be
// called from any goroutine.
type Handle struct {
	data Data
	opts options

	// mu serializes spawn, Stop and Kill.
	mu sync.Mutex

	stateMu sync.RWMutex
	status  Status
	run     *run
	stderr  *broadcast.Channel[Event]

	internal chan Event
	stdout   *broadcast.Channel[Event]
	events   *broadcast.Channel[Event]
}

// run is one child process lifetime.
type run struct {
	cmd     *exec.Cmd
	started time.Time
	stderr  *broadcast.Channel[Event]

	queue      chan string
	writerDone chan struct{}

	tasks       *stopper.Context
	pumpClosed  chan stream.Source
	exited      chan struct{}
	waitErr     error
	releaseOnce sync.Once
}

// New validates d and returns a stopped Handle.
func New(d Data, opts ...Option) (*Handle, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(d, opts)
	h := &Handle{
		data:     d,
		opts:     o,
		status:   Stopped,
		internal: make(chan Event, internalBuffer),
		stdout:   broadcast.New[Event](o.capacity),
		events:   broadcast.New[Event](o.capacity),
	}
	metrics.SetCurrentState(o.name, Stopped.String(), true)
	return h, nil
}

func (h *Handle) Data() Data   { return h.data }
func (h *Handle) Name() string { return h.opts.name }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.status
}

// PID returns the child's pid, or 0 when no child is owned.
func (h *Handle) PID() int {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	if h.run == nil || h.run.cmd.Process == nil {
		return 0
	}
	return h.run.cmd.Process.Pid
}

// Subscribe returns a new receiver on the stdout, stderr or event channel.
// It sees only messages published after the call.
func (h *Handle) Subscribe(src stream.Source) (*broadcast.Receiver[Event], error) {
	switch src {
	case stream.Stdout:
		return h.stdout.Subscribe(), nil
	case stream.Stderr:
		h.stateMu.RLock()
		ch := h.stderr
		h.stateMu.RUnlock()
		if ch == nil {
			return nil, ErrNoStderr
		}
		return ch.Subscribe(), nil
	case stream.Event:
		return h.events.Subscribe(), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownSource, int(src))
}

// Start spawns the server and blocks until it reports ready, the child exits,
// a Stop or Kill intervenes, or ctx ends. On ctx expiry the child keeps
// running, stays owned by the Handle and still reaches Running once ready.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	rx, err := h.spawn()
	h.mu.Unlock()
	if err != nil {
		return err
	}
	if h.opts.parser == nil {
		if h.transitionIf(Running, Starting) {
			metrics.IncStart(h.opts.name)
			return nil
		}
		return h.opErr("start", h.startFailure())
	}
	return h.awaitReady(ctx, rx)
}

func (h *Handle) spawn() (*broadcast.Receiver[Event], error) {
	if h.current() != nil {
		return nil, h.opErr("start", ErrAlreadyRunning)
	}

	cmd := h.opts.command(h.data)
	if cmd.Dir == "" {
		cmd.Dir = h.data.RootDir
	}
	if h.opts.env != nil {
		cmd.Env = h.opts.env
	}
	configureSysProcAttr(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, h.opErr("start", fmt.Errorf("%w: %v", ErrNoStdoutPipe, err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, h.opErr("start", fmt.Errorf("%w: %v", ErrNoStderrPipe, err))
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, h.opErr("start", fmt.Errorf("%w: %v", ErrNoStdinPipe, err))
	}

	r := &run{
		cmd:        cmd,
		stderr:     broadcast.New[Event](h.opts.capacity),
		queue:      make(chan string, queueBuffer),
		writerDone: make(chan struct{}),
		tasks:      stopper.WithContext(context.Background()),
		pumpClosed: make(chan stream.Source, 2),
		exited:     make(chan struct{}),
	}
	r.tasks.Go(h.loopback)

	rx := h.events.Subscribe()
	h.transition(Starting)
	if err := cmd.Start(); err != nil {
		h.transition(Stopped)
		r.release()
		return nil, h.opErr("start", fmt.Errorf("%w: %v", ErrCommandFailed, err))
	}
	r.started = time.Now()
	slog.Info("server spawned", "instance", h.opts.name, "pid", cmd.Process.Pid, "cmd", cmd.String())

	h.stateMu.Lock()
	h.run = r
	h.stderr = r.stderr
	h.stateMu.Unlock()

	if p := h.opts.parser; p != nil {
		prx := h.stdout.Subscribe()
		r.tasks.Go(func(ctx *stopper.Context) error { return h.parse(ctx, r, p, prx) })
	}
	r.tasks.Go(func(ctx *stopper.Context) error { return h.writeCommands(ctx, r, stdin) })
	r.tasks.Go(func(*stopper.Context) error {
		return h.pump(r, stdout, h.stdout, stream.Stdout, h.opts.stdoutCopy)
	})
	r.tasks.Go(func(*stopper.Context) error {
		return h.pump(r, stderr, r.stderr, stream.Stderr, h.opts.stderrCopy)
	})
	go h.reap(r)
	return rx, nil
}

// awaitReady waits for the lifetime's Starting to Running transition, which
// the parser task performs on its own. Giving up on ctx leaves that task
// running, so a late ready marker still moves the server to Running.
func (h *Handle) awaitReady(ctx context.Context, rx *broadcast.Receiver[Event]) error {
	for {
		ev, err := rx.Recv(ctx)
		if err != nil {
			if broadcast.IsLagged(err) {
				if h.Status() == Running {
					return nil
				}
				continue
			}
			return h.opErr("start", err)
		}
		sc, ok := ev.Payload.(StateChange)
		if !ok {
			continue
		}
		switch sc.New {
		case Running:
			return nil
		case Crashed:
			return h.opErr("start", ErrEarlyCrash)
		case Stopping, Killing, Stopped, Killed:
			return h.opErr("start", ErrStartAborted)
		}
	}
}

// markReady moves a starting server to Running.
func (h *Handle) markReady(r *run) {
	if !h.transitionIf(Running, Starting) {
		return
	}
	elapsed := time.Since(r.started)
	metrics.IncStart(h.opts.name)
	metrics.ObserveStartDuration(h.opts.name, elapsed.Seconds())
	slog.Info("server ready", "instance", h.opts.name, "elapsed", elapsed)
}

func (h *Handle) startFailure() error {
	if h.Status() == Crashed {
		return ErrEarlyCrash
	}
	return ErrStartAborted
}

// SendCommand queues text for the child's stdin, adding a trailing newline.
func (h *Handle) SendCommand(ctx context.Context, text string) error {
	h.stateMu.RLock()
	r := h.run
	h.stateMu.RUnlock()
	if r == nil {
		return h.opErr("send", ErrStdinWriteFailed)
	}
	if err := r.enqueue(ctx, text); err != nil {
		return h.opErr("send", err)
	}
	metrics.IncCommand(h.opts.name)
	return nil
}

func (r *run) enqueue(ctx context.Context, text string) error {
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\n"
	}
	select {
	case <-r.writerDone:
		return ErrStdinWriteFailed
	default:
	}
	select {
	case r.queue <- text:
		return nil
	case <-r.writerDone:
		return ErrStdinWriteFailed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop sends "stop" to the server and waits for it to exit. There is no
// internal timeout; bound the wait with ctx and fall back to Kill.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.current()
	if r == nil {
		return h.opErr("stop", ErrNotRunning)
	}
	h.transition(Stopping)
	if err := r.enqueue(ctx, "stop"); err != nil {
		slog.Warn("stop command not delivered", "instance", h.opts.name, "error", err)
	}
	if err := h.finish(ctx, r, "stop", Stopped); err != nil {
		return err
	}
	metrics.IncStop(h.opts.name, "graceful")
	return nil
}

// Kill force-terminates the child's process group and waits for it to exit.
func (h *Handle) Kill(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.current()
	if r == nil {
		return h.opErr("kill", ErrNotRunning)
	}
	h.transition(Killing)
	if err := killGroup(r.cmd); err != nil {
		select {
		case <-r.exited:
		default:
			return h.opErr("kill", fmt.Errorf("%w: %v", ErrCommandFailed, err))
		}
	}
	if err := h.finish(ctx, r, "kill", Killed); err != nil {
		return err
	}
	metrics.IncStop(h.opts.name, "kill")
	return nil
}

// finish waits for the child to exit, records the final state, lets trailing
// output settle and then cancels the lifetime's tasks.
func (h *Handle) finish(ctx context.Context, r *run, op string, final Status) error {
	select {
	case <-r.exited:
	case <-ctx.Done():
		return h.opErr(op, ctx.Err())
	}
	var exitErr *exec.ExitError
	if r.waitErr != nil && !errors.As(r.waitErr, &exitErr) {
		return h.opErr(op, fmt.Errorf("%w: %v", ErrCommandFailed, r.waitErr))
	}
	h.transition(final)
	slog.Info("server exited", "instance", h.opts.name, "state", final.String(), "exit", r.cmd.ProcessState.String())
	h.settle(ctx)
	r.release()
	h.clearRun(r)
	return nil
}

// current returns the owned run, first releasing one whose child crashed.
// Caller holds h.mu.
func (h *Handle) current() *run {
	h.stateMu.RLock()
	r, st := h.run, h.status
	h.stateMu.RUnlock()
	if r == nil || st != Crashed {
		return r
	}
	select {
	case <-r.exited:
	default:
		_ = killGroup(r.cmd)
		<-r.exited
	}
	r.release()
	h.clearRun(r)
	return nil
}

func (h *Handle) clearRun(r *run) {
	h.stateMu.Lock()
	if h.run == r {
		h.run = nil
	}
	h.stateMu.Unlock()
}

func (h *Handle) settle(ctx context.Context) {
	if h.opts.settleDelay <= 0 {
		return
	}
	t := time.NewTimer(h.opts.settleDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// release cancels the lifetime's tasks and waits for them. Safe to call more
// than once.
func (r *run) release() {
	r.releaseOnce.Do(func() {
		r.tasks.Stop(stopGrace)
		if err := r.tasks.Wait(); err != nil {
			slog.Debug("task group ended with error", "error", err)
		}
		r.stderr.Close()
	})
}

// reap waits for both pumps, flags a crash if the child was expected to be
// alive, and collects the exit status.
func (h *Handle) reap(r *run) {
	crashed := false
	for range 2 {
		src := <-r.pumpClosed
		if h.transitionIf(Crashed, Starting, Running) {
			crashed = true
			metrics.IncCrash(h.opts.name)
			slog.Warn("server output closed unexpectedly", "instance", h.opts.name, "stream", src.String())
		}
	}
	r.waitErr = r.cmd.Wait()
	close(r.exited)
	if crashed {
		h.settle(context.Background())
		r.release()
	}
}

// transition sets the status and publishes the StateChange.
func (h *Handle) transition(to Status) Status {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.transitionLocked(to)
}

// transitionIf moves to `to` only from one of the given states.
func (h *Handle) transitionIf(to Status, from ...Status) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	for _, f := range from {
		if h.status == f {
			h.transitionLocked(to)
			return true
		}
	}
	return false
}

func (h *Handle) transitionLocked(to Status) Status {
	from := h.status
	h.status = to
	select {
	case h.internal <- newEvent(StateChange{Old: from, New: to}):
	default:
		slog.Warn("internal event bus full, state change dropped", "instance", h.opts.name, "from", from.String(), "to", to.String())
	}
	metrics.RecordStateTransition(h.opts.name, from.String(), to.String())
	metrics.SetCurrentState(h.opts.name, from.String(), false)
	metrics.SetCurrentState(h.opts.name, to.String(), true)
	slog.Debug("state transition", "instance", h.opts.name, "from", from.String(), "to", to.String())
	return from
}
