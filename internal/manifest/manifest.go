package manifest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/loykin/mineguard/internal/version"
)

// DefaultURL is the vanilla launcher version catalog.
const DefaultURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"

var (
	ErrManifest        = errors.New("manifest error")
	ErrVersionNotFound = errors.New("version not found in manifest")
	ErrNetwork         = errors.New("network error")
	ErrChecksum        = errors.New("artifact checksum mismatch")
	ErrNoServer        = errors.New("version has no server download")
)

// Catalog is the top-level version manifest.
type Catalog struct {
	Latest struct {
		Release  string `json:"release"`
		Snapshot string `json:"snapshot"`
	} `json:"latest"`
	Versions []Entry `json:"versions"`
}

// Entry points at one version's release manifest.
type Entry struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	URL         string    `json:"url"`
	ReleaseTime time.Time `json:"releaseTime"`
	SHA1        string    `json:"sha1"`
}

// Artifact is a downloadable server jar.
type Artifact struct {
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

type releaseManifest struct {
	ID        string `json:"id"`
	Downloads struct {
		Server *Artifact `json:"server"`
	} `json:"downloads"`
}

// Client resolves versions against the catalog and downloads server jars.
type Client struct {
	HTTP *http.Client
	URL  string
}

// NewClient returns a client for DefaultURL with a 60s timeout.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 60 * time.Second}, URL: DefaultURL}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: %s", ErrNetwork, url, resp.Status)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrManifest, url, err)
	}
	return nil
}

// Catalog fetches the version catalog.
func (c *Client) Catalog(ctx context.Context) (*Catalog, error) {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	var cat Catalog
	if err := c.getJSON(ctx, url, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Find returns the catalog entry whose id equals v's display form.
func (cat *Catalog) Find(v version.Version) (Entry, bool) {
	id := v.String()
	for _, e := range cat.Versions {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ServerArtifact resolves the server jar of v.
func (c *Client) ServerArtifact(ctx context.Context, v version.Version) (Artifact, error) {
	cat, err := c.Catalog(ctx)
	if err != nil {
		return Artifact{}, err
	}
	e, ok := cat.Find(v)
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrVersionNotFound, v)
	}
	var rm releaseManifest
	if err := c.getJSON(ctx, e.URL, &rm); err != nil {
		return Artifact{}, err
	}
	if rm.Downloads.Server == nil || rm.Downloads.Server.URL == "" {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNoServer, v)
	}
	return *rm.Downloads.Server, nil
}

// Download streams a to dst, verifying its SHA-1 when known. dst is replaced
// atomically, so a failed download never leaves a partial jar behind.
func (c *Client) Download(ctx context.Context, a Artifact, dst string) error {
	resp, err := c.get(ctx, a.URL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	pf, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer func() { _ = pf.Cleanup() }()

	h := sha1.New()
	n, err := io.Copy(io.MultiWriter(pf, h), resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if a.Size > 0 && n != a.Size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrChecksum, n, a.Size)
	}
	if a.SHA1 != "" {
		if sum := hex.EncodeToString(h.Sum(nil)); sum != a.SHA1 {
			return fmt.Errorf("%w: sha1 %s, want %s", ErrChecksum, sum, a.SHA1)
		}
	}
	return pf.CloseAtomicallyReplace()
}

// Exists reports whether a jar already sits at path.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
