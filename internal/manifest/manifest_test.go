package manifest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/mineguard/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jarBytes = []byte("PK\x03\x04 pretend this is a server jar")

func jarSum() string {
	s := sha1.Sum(jarBytes)
	return hex.EncodeToString(s[:])
}

// fakeMeta serves a catalog listing 1.20.1 and 23w45a; only 1.20.1 has a
// server download.
func fakeMeta(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/mc/game/version_manifest_v2.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{
  "latest": {"release": "1.20.1", "snapshot": "23w45a"},
  "versions": [
    {"id": "23w45a", "type": "snapshot", "url": "%[1]s/v1/23w45a.json", "releaseTime": "2023-11-08T12:00:00+00:00", "sha1": "x"},
    {"id": "1.20.1", "type": "release", "url": "%[1]s/v1/1.20.1.json", "releaseTime": "2023-06-12T13:25:51+00:00", "sha1": "y"}
  ]
}`, srv.URL)
	})
	mux.HandleFunc("/v1/1.20.1.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"id": "1.20.1", "downloads": {"server": {"url": "%s/server.jar", "sha1": "%s", "size": %d}}}`,
			srv.URL, jarSum(), len(jarBytes))
	})
	mux.HandleFunc("/v1/23w45a.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "23w45a", "downloads": {}}`))
	})
	mux.HandleFunc("/server.jar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jarBytes)
	})
	mux.HandleFunc("/broken.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"versions": [`))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServerArtifactAndDownload(t *testing.T) {
	srv := fakeMeta(t)
	c := &Client{HTTP: srv.Client(), URL: srv.URL + "/mc/game/version_manifest_v2.json"}
	ctx := context.Background()

	cat, err := c.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.20.1", cat.Latest.Release)
	require.Len(t, cat.Versions, 2)

	a, err := c.ServerArtifact(ctx, version.MustParse("1.20.1"))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/server.jar", a.URL)
	assert.Equal(t, jarSum(), a.SHA1)

	dst := filepath.Join(t.TempDir(), "server.jar")
	require.NoError(t, c.Download(ctx, a, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, jarBytes, got)
	assert.True(t, Exists(dst))
}

func TestServerArtifactErrors(t *testing.T) {
	srv := fakeMeta(t)
	c := &Client{HTTP: srv.Client(), URL: srv.URL + "/mc/game/version_manifest_v2.json"}
	ctx := context.Background()

	_, err := c.ServerArtifact(ctx, version.MustParse("1.7.10"))
	assert.ErrorIs(t, err, ErrVersionNotFound)

	_, err = c.ServerArtifact(ctx, version.MustParse("23w45a"))
	assert.ErrorIs(t, err, ErrNoServer)

	bad := &Client{HTTP: srv.Client(), URL: srv.URL + "/broken.json"}
	_, err = bad.Catalog(ctx)
	assert.ErrorIs(t, err, ErrManifest)

	missing := &Client{HTTP: srv.Client(), URL: srv.URL + "/nope.json"}
	_, err = missing.Catalog(ctx)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestDownloadChecksumMismatch(t *testing.T) {
	srv := fakeMeta(t)
	c := &Client{HTTP: srv.Client()}
	dst := filepath.Join(t.TempDir(), "server.jar")

	err := c.Download(context.Background(), Artifact{URL: srv.URL + "/server.jar", SHA1: "deadbeef"}, dst)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.False(t, Exists(dst), "no partial jar may remain")

	err = c.Download(context.Background(), Artifact{URL: srv.URL + "/server.jar", Size: 3}, dst)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestDownloadCancelled(t *testing.T) {
	srv := fakeMeta(t)
	c := &Client{HTTP: srv.Client()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Download(ctx, Artifact{URL: srv.URL + "/server.jar"}, filepath.Join(t.TempDir(), "server.jar"))
	assert.ErrorIs(t, err, ErrNetwork)
}
