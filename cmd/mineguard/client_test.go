package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenReq struct {
	method, path, query, body string
}

type recorder struct {
	mu   sync.Mutex
	reqs []seenReq
}

func (r *recorder) all() []seenReq {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]seenReq(nil), r.reqs...)
}

func fakeDaemon(t *testing.T) (*httptest.Server, *recorder) {
	t.Helper()
	seen := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, seenReq{r.Method, r.URL.Path, r.URL.RawQuery, string(b)})
		seen.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/instances", "/api/history":
			_, _ = w.Write([]byte(`[{"name":"lobby"}]`))
		case "/api/status", "/api/start", "/api/stop", "/api/kill":
			if r.URL.Query().Get("name") == "missing" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"unknown instance missing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"name":"lobby","status":"Running"}`))
		case "/api/command":
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestAPIClientRoutes(t *testing.T) {
	srv, seen := fakeDaemon(t)
	c := NewAPIClient(srv.URL+"/api", time.Second)

	list, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, "lobby", list[0]["name"])

	st, err := c.Start("lobby", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "Running", st["status"])

	_, err = c.Stop("lobby", 5*time.Second)
	require.NoError(t, err)
	_, err = c.Kill("lobby")
	require.NoError(t, err)
	require.NoError(t, c.SendCommand("lobby", "say hi"))
	_, err = c.History("lobby", 5)
	require.NoError(t, err)

	got := seen.all()
	require.Len(t, got, 6)
	assert.Equal(t, seenReq{"GET", "/api/instances", "", ""}, got[0])
	assert.Equal(t, "POST", got[1].method)
	assert.Equal(t, "name=lobby&wait=2m0s", got[1].query)
	assert.Equal(t, "name=lobby&wait=5s", got[2].query)
	assert.Equal(t, "/api/kill", got[3].path)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(got[4].body), &body))
	assert.Equal(t, "say hi", body["command"])
	assert.Equal(t, "limit=5&name=lobby", got[5].query)
}

func TestAPIClientErrors(t *testing.T) {
	srv, _ := fakeDaemon(t)
	c := NewAPIClient(srv.URL+"/api", time.Second)

	_, err := c.Status("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown instance missing")

	c = NewAPIClient(srv.URL+"/elsewhere", time.Second)
	_, err = c.List()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
}

func TestCommandsViaAPI(t *testing.T) {
	srv, _ := fakeDaemon(t)
	api := []string{"--api-url", srv.URL + "/api"}

	out, err := run(t, append([]string{"status"}, api...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"lobby"`)

	out, err = run(t, append([]string{"start", "--name", "lobby"}, api...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"Running"`)

	out, err = run(t, append([]string{"send", "--name", "lobby", "--command", "save-all"}, api...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Sent to 'lobby': save-all")

	_, err = run(t, append([]string{"stop", "--name", "missing"}, api...)...)
	assert.Error(t, err)

	_, err = run(t, append([]string{"kill"}, api...)...)
	assert.Error(t, err)
}

func TestAPIClientTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	c := NewAPIClient(srv.URL, time.Second)
	_, err := c.List()
	require.Error(t, err)

	require.NoError(t, c.ConfigureTLS("", true))
	_, err = c.List()
	require.NoError(t, err)

	assert.Error(t, c.ConfigureTLS(filepath.Join(t.TempDir(), "missing.crt"), false))

	_, err = run(t, "status", "--api-url", srv.URL, "--api-insecure")
	assert.NoError(t, err)
}
