package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) SendCommand(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"*/15 * * * *", "0 */5 * * * *", "@every 1s", "@daily"} {
		assert.NoError(t, Validate(ok), ok)
	}
	for _, bad := range []string{"", "not cron", "* * *", "@every banana"} {
		assert.Error(t, Validate(bad), bad)
	}
}

func TestAddRejectsInvalidEntries(t *testing.T) {
	s := New(func(string) (CommandSender, bool) { return nil, false }, time.UTC)
	_, err := s.Add(Entry{Cron: "@hourly", Command: "save-all"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = s.Add(Entry{Instance: "lobby", Cron: "@hourly"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = s.Add(Entry{Instance: "lobby", Cron: "every hour", Command: "save-all"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Empty(t, s.Entries())
}

func TestSchedulerFires(t *testing.T) {
	rec := &recordingSender{}
	s := New(func(name string) (CommandSender, bool) {
		if name == "lobby" {
			return rec, true
		}
		return nil, false
	}, time.UTC)

	id, err := s.Add(Entry{Instance: "lobby", Cron: "@every 1s", Command: "save-all"})
	require.NoError(t, err)
	_, err = s.Add(Entry{Instance: "ghost", Cron: "@every 1s", Command: "say boo"})
	require.NoError(t, err)
	assert.Len(t, s.Entries(), 2)

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return !s.Next(id).IsZero() }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	rec.mu.Lock()
	assert.Equal(t, "save-all", rec.sent[0])
	rec.mu.Unlock()

	s.Remove(id)
	assert.Len(t, s.Entries(), 1)
}

func TestFireSwallowsSendErrors(t *testing.T) {
	rec := &recordingSender{err: errors.New("not running")}
	s := New(func(string) (CommandSender, bool) { return rec, true }, nil)
	s.fire(Entry{Instance: "lobby", Command: "save-all"})
	assert.Zero(t, rec.count())
}
