// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lualink/lualink/internal/util"
	log "github.com/sirupsen/logrus"
)

// EntryFile is the file loaded from each script directory.
const EntryFile = "main.lua"

// tealEntryFile marks a script written in Teal, which is not compiled here.
const tealEntryFile = "main.tl"

// ErrNotFound means storage has no script of that name.
var ErrNotFound = errors.New("script not found")

// Source is the code of one script.
type Source struct {
	Name string
	Path string
	Code string
}

// Storage lists and reads script sources.
type Storage interface {
	// Names lists every loadable script, sorted.
	Names() ([]string, error)
	Exists(name string) bool
	Read(name string) (Source, error)
}

// DirStorage keeps one directory per script, each holding a main.lua.
type DirStorage struct {
	root string
}

// NewDirStorage serves scripts from root, creating it when missing.
func NewDirStorage(root string) (*DirStorage, error) {
	if err := util.EnsureDir(root); err != nil {
		return nil, err
	}
	return &DirStorage{root: root}, nil
}

// Root returns the scripts directory.
func (s *DirStorage) Root() string { return s.root }

// Names lists directories with a main.lua and a valid name. Teal-only
// scripts and badly named directories are skipped with a warning.
func (s *DirStorage) Names() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list scripts in %s: %w", s.root, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		dir := filepath.Join(s.root, name)
		if !fileExists(filepath.Join(dir, EntryFile)) {
			if fileExists(filepath.Join(dir, tealEntryFile)) {
				log.WithField("script", name).Warn("Teal scripts are not supported, skipping")
			}
			continue
		}
		if !util.IsValidScriptName(name) {
			log.Warnf("skipping script directory %q: names must be lowercase letters, digits and dashes", name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether name has a readable entry file.
func (s *DirStorage) Exists(name string) bool {
	return util.IsValidScriptName(name) && fileExists(s.EntryPath(name))
}

// EntryPath returns the path of name's main.lua.
func (s *DirStorage) EntryPath(name string) string {
	return filepath.Join(s.root, name, EntryFile)
}

// Read loads the source of name.
func (s *DirStorage) Read(name string) (Source, error) {
	if !util.IsValidScriptName(name) {
		return Source{}, fmt.Errorf("invalid script name %q", name)
	}
	path := s.EntryPath(name)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Source{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Source{}, fmt.Errorf("failed to read script %s: %w", name, err)
	}
	return Source{Name: name, Path: path, Code: string(b)}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
