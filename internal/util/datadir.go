// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package util provides path, naming and formatting helpers shared by the
// LuaLink packages.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DataDirEnv overrides the default data directory.
const DataDirEnv = "LUALINK_DATA_DIR"

// DefaultDataDir is used when DataDirEnv is unset.
const DefaultDataDir = "./lualink"

// DataDir is the root of everything LuaLink writes or reads from disk:
// the configuration file, the scripts directory and rotated logs.
type DataDir struct {
	mu       sync.RWMutex
	rootPath string
}

// NewDataDir resolves the data directory from the environment.
func NewDataDir() (*DataDir, error) {
	dir := os.Getenv(DataDirEnv)
	if dir == "" {
		dir = DefaultDataDir
	}
	return NewDataDirAt(dir)
}

// NewDataDirAt resolves an explicit data directory.
func NewDataDirAt(dir string) (*DataDir, error) {
	resolved, err := ExpandPath(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	return &DataDir{rootPath: resolved}, nil
}

// RootPath returns the resolved root directory.
func (d *DataDir) RootPath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rootPath
}

// ScriptsDir returns the default location of script folders.
func (d *DataDir) ScriptsDir() string {
	return filepath.Join(d.RootPath(), "scripts")
}

// LogsDir returns the directory rotated log files are written to.
func (d *DataDir) LogsDir() string {
	return filepath.Join(d.RootPath(), "logs")
}

// ConfigPath returns the path of the YAML configuration file.
func (d *DataDir) ConfigPath() string {
	return filepath.Join(d.RootPath(), "config.yaml")
}

// ResolvePath joins a relative path with the root. Absolute and
// tilde-prefixed paths are expanded and returned without joining.
func (d *DataDir) ResolvePath(p string) string {
	if p == "" {
		return d.RootPath()
	}
	if strings.HasPrefix(p, "~") || filepath.IsAbs(p) {
		expanded, err := ExpandPath(p)
		if err != nil {
			return filepath.Clean(p)
		}
		return expanded
	}
	return filepath.Join(d.RootPath(), p)
}

// EnsureDir creates path and its parents with 0700 permissions.
func (d *DataDir) EnsureDir(path string) error {
	return EnsureDir(path)
}

// EnsureDir creates path and its parents with 0700 permissions. An existing
// non-directory at path is an error.
func EnsureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat directory %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// ExpandPath expands a leading tilde to the user's home directory and
// returns the cleaned absolute path.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
