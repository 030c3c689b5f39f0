package instance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/mineguard/internal/version"
)

// Data is the immutable description of a server installation.
type Data struct {
	RootDir string
	JarPath string // relative to RootDir
	Version version.Version
	Type    version.ServerType
}

// JarAbs returns the absolute path of the server jar.
func (d Data) JarAbs() string {
	return filepath.Join(d.RootDir, d.JarPath)
}

// Validate checks that RootDir is an existing directory and JarPath names a
// regular file inside it.
func (d Data) Validate() error {
	fi, err := os.Stat(d.RootDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidDirectory, d.RootDir)
	}
	if d.JarPath == "" || filepath.IsAbs(d.JarPath) {
		return fmt.Errorf("%w: %q must be relative to the root directory", ErrInvalidJarPath, d.JarPath)
	}
	rel := filepath.Clean(d.JarPath)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q escapes the root directory", ErrInvalidJarPath, d.JarPath)
	}
	fi, err = os.Stat(d.JarAbs())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJarPath, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrInvalidJarPath, d.JarAbs())
	}
	return nil
}
