package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncStart("lobby")
	IncStop("lobby", "graceful")
	IncCrash("lobby")
	ObserveStartDuration("lobby", 4.5)
	IncLines("lobby", "stdout")
	AddLagged("lobby", "stdout", 3)
	IncCommand("lobby")
	RecordStateTransition("lobby", "Starting", "Running")
	SetCurrentState("lobby", "Running", true)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	want := map[string]bool{
		"mineguard_instance_starts_total":            false,
		"mineguard_instance_stops_total":             false,
		"mineguard_instance_crashes_total":           false,
		"mineguard_instance_start_duration_seconds":  false,
		"mineguard_stream_lines_total":               false,
		"mineguard_stream_lagged_messages_total":     false,
		"mineguard_instance_commands_total":          false,
		"mineguard_instance_state_transitions_total": false,
		"mineguard_instance_current_state":           false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, ok := range want {
		assert.True(t, ok, "expected metric %s", n)
	}
}

func TestHandlerServes(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
