package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const defaultAPIURL = "http://127.0.0.1:8080/api"

// APIClient talks to a running "mineguard serve" daemon.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ConfigureTLS trusts caFile for an HTTPS daemon, or skips verification
// entirely when insecure is set.
func (c *APIClient) ConfigureTLS(caFile string, insecure bool) error {
	// #nosec G402 opt-in via --api-insecure
	tc := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return errors.New("no certificates found in " + caFile)
		}
		tc.RootCAs = pool
	}
	c.client.Transport = &http.Transport{TLSClientConfig: tc}
	return nil
}

func (c *APIClient) endpoint(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do performs the request and decodes a 200 body into out. Non-200 answers
// surface the daemon's error message.
func (c *APIClient) do(method, path string, q url.Values, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.endpoint(path, q), rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			return fmt.Errorf("API error: %s", resp.Status)
		}
		return fmt.Errorf("API error: %s", errorResp.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func nameQuery(name string, wait time.Duration) url.Values {
	q := url.Values{"name": {name}}
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	return q
}

// List returns the status of every server the daemon manages.
func (c *APIClient) List() ([]map[string]any, error) {
	var out []map[string]any
	err := c.do(http.MethodGet, "/instances", nil, nil, &out)
	return out, err
}

// Status returns one server's status.
func (c *APIClient) Status(name string) (map[string]any, error) {
	var out map[string]any
	err := c.do(http.MethodGet, "/status", nameQuery(name, 0), nil, &out)
	return out, err
}

// Start starts a server and waits up to wait for it to become ready.
func (c *APIClient) Start(name string, wait time.Duration) (map[string]any, error) {
	var out map[string]any
	err := c.do(http.MethodPost, "/start", nameQuery(name, wait), nil, &out)
	return out, err
}

// Stop stops a server gracefully; the daemon kills it after wait.
func (c *APIClient) Stop(name string, wait time.Duration) (map[string]any, error) {
	var out map[string]any
	err := c.do(http.MethodPost, "/stop", nameQuery(name, wait), nil, &out)
	return out, err
}

// Kill force-terminates a server.
func (c *APIClient) Kill(name string) (map[string]any, error) {
	var out map[string]any
	err := c.do(http.MethodPost, "/kill", nameQuery(name, 0), nil, &out)
	return out, err
}

// SendCommand writes one console command to a running server.
func (c *APIClient) SendCommand(name, command string) error {
	return c.do(http.MethodPost, "/command", nameQuery(name, 0), map[string]string{"command": command}, nil)
}

// History returns recorded state changes, newest first.
func (c *APIClient) History(name string, limit int) ([]map[string]any, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var out []map[string]any
	err := c.do(http.MethodGet, "/history", q, nil, &out)
	return out, err
}
