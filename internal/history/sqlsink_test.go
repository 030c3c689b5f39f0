package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSinkFromDSN(t *testing.T) {
	_, err := NewSinkFromDSN("  ")
	assert.ErrorIs(t, err, ErrEmptyDSN)

	_, err = NewSinkFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	for _, dsn := range []string{
		"sqlite://" + filepath.Join(t.TempDir(), "h.db"),
		filepath.Join(t.TempDir(), "plain.db"),
		":memory:",
	} {
		s, err := NewSinkFromDSN(dsn)
		require.NoError(t, err, dsn)
		assert.Equal(t, "sqlite", s.dialect)
		require.NoError(t, s.Close())
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLSink{dialect: "postgres"}
	assert.Equal(t, "VALUES($1, $2, $3)", pg.rebind("VALUES(?, ?, ?)"))
	lite := &SQLSink{dialect: "sqlite"}
	assert.Equal(t, "VALUES(?, ?)", lite.rebind("VALUES(?, ?)"))
	assert.Equal(t, "$9,$10", pg.rebind("?????????,?")[len("$1$2$3$4$5$6$7$8"):])
}

func TestSQLiteSendAndRecent(t *testing.T) {
	s, err := NewSinkFromDSN("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	steps := [][2]string{{"Stopped", "Starting"}, {"Starting", "Running"}, {"Running", "Stopping"}, {"Stopping", "Stopped"}}
	for i, st := range steps {
		require.NoError(t, s.Send(ctx, Event{
			ID:         uuid.NewString(),
			OccurredAt: base.Add(time.Duration(i) * time.Second),
			Instance:   "lobby",
			ServerUUID: "6f1c",
			From:       st[0],
			To:         st[1],
			PID:        4242,
		}))
	}
	require.NoError(t, s.Send(ctx, Event{ID: uuid.NewString(), OccurredAt: base, Instance: "survival", From: "Stopped", To: "Starting"}))

	got, err := s.Recent(ctx, "lobby", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Stopped", got[0].To)
	assert.Equal(t, "Stopping", got[1].To)
	assert.Equal(t, 4242, got[0].PID)
	assert.True(t, got[0].OccurredAt.Equal(base.Add(3*time.Second)))

	all, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
