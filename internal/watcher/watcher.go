// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package watcher hot-reloads scripts when their sources change on disk.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lualink/lualink/internal/script"
	"github.com/lualink/lualink/internal/util"
	log "github.com/sirupsen/logrus"
)

// Target is the part of the script registry the watcher drives.
type Target interface {
	Get(name string) (*script.Script, bool)
	LoadFromStorage(ctx context.Context, name string) (*script.Script, error)
	Reload(ctx context.Context, name string) (*script.Script, error)
	Unload(ctx context.Context, name string) error
}

// Watcher follows the scripts directory and each script directory below it.
type Watcher struct {
	root     string
	storage  script.Storage
	target   Target
	debounce time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	syncing sync.WaitGroup
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a watcher for root. Changes to a script are coalesced for
// debounce before the script is reloaded.
func New(root string, storage script.Storage, target Target, debounce time.Duration) *Watcher {
	return &Watcher{
		root:     filepath.Clean(root),
		storage:  storage,
		target:   target,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
	}
}

// Start begins watching in the background until ctx is done or Stop runs.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = fsw.Add(w.root); err != nil {
		_ = fsw.Close()
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		_ = fsw.Close()
		return err
	}
	for _, e := range entries {
		if e.IsDir() && util.IsValidScriptName(e.Name()) {
			if errAdd := fsw.Add(filepath.Join(w.root, e.Name())); errAdd != nil {
				log.Warnf("failed to watch script %s: %v", e.Name(), errAdd)
			}
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.fsw = fsw
	w.done = make(chan struct{})
	go w.loop(ctx, fsw, w.done)
	log.Infof("watching %s for script changes", w.root)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Errorf("script watcher error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	name := parts[0]
	if !util.IsValidScriptName(name) {
		return
	}

	if len(parts) == 1 && event.Has(fsnotify.Create) {
		if info, errStat := os.Stat(event.Name); errStat == nil && info.IsDir() {
			if errAdd := fsw.Add(event.Name); errAdd != nil {
				log.Warnf("failed to watch script %s: %v", name, errAdd)
			}
		}
	}
	log.Debugf("script %s changed (%s)", name, event)
	w.schedule(ctx, name)
}

// schedule (re)arms the debounce timer of name.
func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[name]; ok && t.Stop() {
		w.syncing.Done()
	}
	w.syncing.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.syncing.Done()
		w.mu.Lock()
		if w.pending[name] != t {
			w.mu.Unlock()
			return
		}
		delete(w.pending, name)
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.Sync(ctx, name)
		}
	})
	w.pending[name] = t
}

// Sync brings the loaded state of name in line with storage: a present
// script is reloaded (or loaded), a vanished one unloaded.
func (w *Watcher) Sync(ctx context.Context, name string) {
	_, loaded := w.target.Get(name)
	exists := w.storage.Exists(name)

	switch {
	case exists && loaded:
		if _, err := w.target.Reload(ctx, name); err != nil {
			log.WithField("script", name).Errorf("hot reload failed: %v", err)
			return
		}
		log.WithField("script", name).Info("reloaded")
	case exists:
		if _, err := w.target.LoadFromStorage(ctx, name); err != nil {
			log.WithField("script", name).Errorf("hot load failed: %v", err)
			return
		}
		log.WithField("script", name).Info("loaded")
	case loaded:
		if err := w.target.Unload(ctx, name); err != nil {
			log.WithField("script", name).Errorf("hot unload failed: %v", err)
			return
		}
		log.WithField("script", name).Info("unloaded")
	}
}

// Stop ends watching and waits for in-flight reloads.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw, cancel, done := w.fsw, w.cancel, w.done
	w.fsw = nil
	for name, t := range w.pending {
		if t.Stop() {
			w.syncing.Done()
		}
		delete(w.pending, name)
	}
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	cancel()
	_ = fsw.Close()
	<-done
	w.syncing.Wait()
}
