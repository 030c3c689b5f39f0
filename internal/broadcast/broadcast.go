package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is the number of messages retained for slow receivers.
const DefaultCapacity = 2048

var (
	// ErrClosed is returned by a receiver once the channel is closed and drained.
	ErrClosed = errors.New("broadcast: channel closed")
	// ErrAborted is returned by Next when the done channel fires before a message arrives.
	ErrAborted = errors.New("broadcast: receive aborted")
)

// LaggedError reports that a receiver fell behind and lost the oldest messages.
// The receiver continues from the oldest retained message on the next call.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: receiver lagged, %d messages skipped", e.Skipped)
}

// IsLagged reports whether err is a *LaggedError.
func IsLagged(err error) bool {
	var le *LaggedError
	return errors.As(err, &le)
}

// Channel is a single-producer, multi-consumer ring buffer.
// Publish never blocks; every receiver sees every message published after it
// subscribed unless it falls more than Cap messages behind.
type Channel[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    uint64 // sequence number of the next message
	notify  chan struct{}
	waiters int
	closed  bool
}

// New creates a channel retaining up to capacity messages.
// A non-positive capacity selects DefaultCapacity.
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}),
	}
}

// Cap returns the ring capacity.
func (c *Channel[T]) Cap() int { return len(c.buf) }

// Publish appends v, overwriting the oldest message when full.
// It returns false if the channel is closed.
func (c *Channel[T]) Publish(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.buf[c.head%uint64(len(c.buf))] = v
	c.head++
	c.wakeLocked()
	return true
}

// Close wakes all receivers; they drain what is retained and then get ErrClosed.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.wakeLocked()
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel[T]) wakeLocked() {
	if c.waiters == 0 {
		return
	}
	close(c.notify)
	c.notify = make(chan struct{})
	c.waiters = 0
}

// Subscribe returns a receiver positioned after the latest published message.
func (c *Channel[T]) Subscribe() *Receiver[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Receiver[T]{ch: c, next: c.head}
}

// Receiver is an independent read cursor. It is not safe for concurrent use.
type Receiver[T any] struct {
	ch   *Channel[T]
	next uint64
}

// Recv blocks until a message is available, the channel is closed, or ctx ends.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	v, err := r.Next(ctx.Done())
	if errors.Is(err, ErrAborted) {
		return v, ctx.Err()
	}
	return v, err
}

// TryRecv returns the next message without blocking. ok is false when nothing
// is pending.
func (r *Receiver[T]) TryRecv() (v T, ok bool, err error) {
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := r.lagLocked(); err != nil {
		return v, false, err
	}
	if r.next < c.head {
		v = c.buf[r.next%uint64(len(c.buf))]
		r.next++
		return v, true, nil
	}
	if c.closed {
		return v, false, ErrClosed
	}
	return v, false, nil
}

// Next is Recv driven by a bare done channel; it returns ErrAborted when done fires.
func (r *Receiver[T]) Next(done <-chan struct{}) (T, error) {
	c := r.ch
	for {
		v, ok, err := r.TryRecv()
		if ok || err != nil {
			return v, err
		}
		c.mu.Lock()
		if r.next < c.head || c.closed {
			c.mu.Unlock()
			continue
		}
		wait := c.notify
		c.waiters++
		c.mu.Unlock()

		select {
		case <-wait:
		case <-done:
			c.mu.Lock()
			// a wake after we gave up already reset the count
			if c.notify == wait && c.waiters > 0 {
				c.waiters--
			}
			c.mu.Unlock()
			var zero T
			return zero, ErrAborted
		}
	}
}

// Pending returns how many retained messages the receiver has not read yet.
func (r *Receiver[T]) Pending() int {
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	next := r.next
	if oldest := c.oldestLocked(); next < oldest {
		next = oldest
	}
	return int(c.head - next)
}

func (r *Receiver[T]) lagLocked() error {
	oldest := r.ch.oldestLocked()
	if r.next >= oldest {
		return nil
	}
	skipped := oldest - r.next
	r.next = oldest
	return &LaggedError{Skipped: skipped}
}

func (c *Channel[T]) oldestLocked() uint64 {
	n := uint64(len(c.buf))
	if c.head < n {
		return 0
	}
	return c.head - n
}
