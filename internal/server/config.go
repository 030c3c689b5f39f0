package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/loykin/mineguard/internal/version"
)

const (
	// InternalDir holds mineguard's own files inside a server root.
	InternalDir = ".mineguard"
	ConfigFile  = "config.json"
	DefaultJar  = "server.jar"
	eulaFile    = "eula.txt"
)

// Config is the JSON sidecar that lets a server be reloaded after the
// supervisor restarts.
type Config struct {
	UUID      uuid.UUID          `json:"uuid"`
	Name      string             `json:"name,omitempty"`
	ServerDir string             `json:"server_dir"`
	JarPath   string             `json:"jar_path"`
	MCVersion string             `json:"mc_version"`
	MCType    version.ServerType `json:"mc_type"`
}

// ConfigPath returns the sidecar location for a server root.
func ConfigPath(root string) string {
	return filepath.Join(root, InternalDir, ConfigFile)
}

// InstanceName is the display name, falling back to the UUID.
func (c Config) InstanceName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.UUID.String()
}

// ReadConfig loads the sidecar at path.
func ReadConfig(path string) (Config, error) {
	var c Config
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Write atomically replaces the sidecar under c.ServerDir.
func (c Config) Write() error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Join(c.ServerDir, InternalDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(ConfigPath(c.ServerDir), append(b, '\n'), 0o644)
}
