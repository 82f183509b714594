// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package script loads scripts into isolated environments and tracks what
// each one registered so that unloading leaves nothing behind.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lualink/lualink/internal/command"
	"github.com/lualink/lualink/internal/luabridge"
	"github.com/lualink/lualink/internal/refs"
	"github.com/lualink/lualink/internal/scheduler"
	"github.com/lualink/lualink/internal/util"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Locker runs fn while holding the interpreter lock.
type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context, L *lua.LState) error) error
}

// Options wires a Registry to its session and host.
type Options struct {
	Locker   Locker
	Refs     *refs.Registry
	Storage  Storage
	Commands *command.Bridge
	Tasks    *scheduler.Bridge
}

// Registry owns the set of loaded scripts. Mutations happen under the
// interpreter lock; Loaded and Get are safe without it.
type Registry struct {
	locker   Locker
	refs     *refs.Registry
	storage  Storage
	commands *command.Bridge
	tasks    *scheduler.Bridge

	mu      sync.Mutex
	loaded  map[string]*Script
	order   []string
	pending map[string]*Script
	byEnv   map[*lua.LTable]*Script

	snapshot atomic.Pointer[[]*Script]
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		locker:   opts.Locker,
		refs:     opts.Refs,
		storage:  opts.Storage,
		commands: opts.Commands,
		tasks:    opts.Tasks,
		loaded:   make(map[string]*Script),
		pending:  make(map[string]*Script),
		byEnv:    make(map[*lua.LTable]*Script),
	}
	r.snapshot.Store(&[]*Script{})
	return r
}

// Loaded returns the loaded scripts in load order.
func (r *Registry) Loaded() []*Script {
	return append([]*Script(nil), *r.snapshot.Load()...)
}

// Get returns a loaded script by name.
func (r *Registry) Get(name string) (*Script, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.loaded[name]
	return s, ok
}

// Available lists scripts in storage that are not loaded.
func (r *Registry) Available() ([]string, error) {
	if r.storage == nil {
		return nil, nil
	}
	names, err := r.storage.Names()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := r.Get(name); !ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// LoadAll loads every script in storage that is not loaded yet. A failing
// script is logged and skipped; the joined failures are returned.
func (r *Registry) LoadAll(ctx context.Context) error {
	if r.storage == nil {
		return nil
	}
	names, err := r.storage.Names()
	if err != nil {
		return err
	}

	var errs []error
	loaded, attempted := 0, 0
	for _, name := range names {
		if _, ok := r.Get(name); ok {
			continue
		}
		attempted++
		if _, err := r.LoadFromStorage(ctx, name); err != nil {
			log.WithField("script", name).Error(err)
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	log.Infof("loaded %d of %d scripts", loaded, attempted)
	return errors.Join(errs...)
}

// LoadFromStorage reads name from storage and loads it.
func (r *Registry) LoadFromStorage(ctx context.Context, name string) (*Script, error) {
	if r.storage == nil {
		return nil, &luabridge.ScriptLoadError{Name: name, Cause: errors.New("no script storage configured")}
	}
	src, err := r.storage.Read(name)
	if err != nil {
		return nil, &luabridge.ScriptLoadError{Name: name, Cause: err}
	}
	return r.load(ctx, src)
}

// Load compiles code as script name and runs it in a fresh environment.
// Names already loaded are rejected. If the script fails, everything it
// registered so far is rolled back.
func (r *Registry) Load(ctx context.Context, name, code string) (*Script, error) {
	return r.load(ctx, Source{Name: name, Code: code})
}

func (r *Registry) load(ctx context.Context, src Source) (*Script, error) {
	name := src.Name
	if !util.IsValidScriptName(name) {
		return nil, &luabridge.ScriptLoadError{Name: name, Cause: errors.New("invalid script name")}
	}

	var sc *Script
	err := r.locker.WithLock(ctx, func(ctx context.Context, L *lua.LState) error {
		if r.known(name) {
			return fmt.Errorf("%w: %s", luabridge.ErrAlreadyLoaded, name)
		}

		chunk, err := L.Load(strings.NewReader(src.Code), name+"/"+EntryFile)
		if err != nil {
			return err
		}

		env := L.NewTable()
		mt := L.NewTable()
		mt.RawSetString("__index", L.Get(lua.GlobalsIndex))
		L.SetMetatable(env, mt)

		obj, err := newScriptObject(L, name)
		if err != nil {
			return err
		}
		env.RawSetString("script", obj)
		chunk.Env = env

		s := newScript(name, src.Path, env, obj)
		r.begin(s)

		if err := r.run(L, s, chunk); err != nil {
			r.teardown(ctx, s)
			return luabridge.NewRuntimeError(name, "load", err)
		}

		s.loadedAt = time.Now()
		r.commit(s)
		if len(s.commandList()) > 0 {
			r.commands.Table.Sync()
		}
		sc = s
		return nil
	})
	if err != nil {
		return nil, &luabridge.ScriptLoadError{Name: name, Cause: err}
	}
	log.WithField("script", name).Info("loaded script")
	return sc, nil
}

// run executes the chunk and the onLoad hook, then retains onUnload.
func (r *Registry) run(L *lua.LState, s *Script, chunk *lua.LFunction) error {
	if err := luabridge.Call(L, chunk, 0); err != nil {
		return err
	}
	if hook, ok := L.GetField(s.object, "_onLoad").(*lua.LFunction); ok {
		if err := luabridge.Call(L, hook, 0); err != nil {
			return fmt.Errorf("onLoad: %w", err)
		}
	}
	if hook, ok := L.GetField(s.object, "_onUnload").(*lua.LFunction); ok {
		s.unloadHook = r.refs.Retain(hook, refs.Owner{Script: s.name, Kind: refs.KindHook})
	}
	return nil
}

// Unload runs the script's onUnload hook, revokes its commands, cancels
// its tasks and releases every handle it owns.
func (r *Registry) Unload(ctx context.Context, name string) error {
	err := r.locker.WithLock(ctx, func(ctx context.Context, L *lua.LState) error {
		r.mu.Lock()
		s, ok := r.loaded[name]
		r.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", luabridge.ErrNotLoaded, name)
		}

		r.runUnloadHook(L, s)
		hadCommands := len(s.commandList()) > 0
		r.teardown(ctx, s)
		if hadCommands {
			r.commands.Table.Sync()
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.WithField("script", name).Info("unloaded script")
	return nil
}

// UnloadAll unloads every script in load order.
func (r *Registry) UnloadAll(ctx context.Context) error {
	var errs []error
	for _, s := range r.Loaded() {
		if err := r.Unload(ctx, s.name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload re-reads name from storage and replaces the loaded instance. A
// script that is not loaded is simply loaded.
func (r *Registry) Reload(ctx context.Context, name string) (*Script, error) {
	if r.storage == nil {
		return nil, &luabridge.ScriptLoadError{Name: name, Cause: errors.New("no script storage configured")}
	}
	src, err := r.storage.Read(name)
	if err != nil {
		return nil, &luabridge.ScriptLoadError{Name: name, Cause: err}
	}

	var sc *Script
	err = r.locker.WithLock(ctx, func(ctx context.Context, _ *lua.LState) error {
		if _, ok := r.Get(name); ok {
			if err := r.Unload(ctx, name); err != nil {
				return err
			}
		}
		var err error
		sc, err = r.load(ctx, src)
		return err
	})
	return sc, err
}

func (r *Registry) runUnloadHook(L *lua.LState, s *Script) {
	if s.unloadHook == 0 {
		return
	}
	fn, err := r.refs.Resolve(s.unloadHook)
	if err == nil {
		err = luabridge.Call(L, fn, 0)
	}
	if err != nil {
		log.WithField("script", s.name).Warn(luabridge.NewRuntimeError(s.name, "onUnload", err))
	}
}

// teardown removes every trace of s. Caller holds the interpreter lock and
// passes the lock context.
func (r *Registry) teardown(ctx context.Context, s *Script) {
	for _, t := range s.taskList() {
		if err := t.Cancel(ctx); err != nil {
			log.WithField("script", s.name).Warnf("cancel task %d: %v", t.Handle(), err)
		}
	}
	for _, c := range s.commandList() {
		c.Revoke()
	}
	for _, h := range r.refs.OwnedBy(s.name) {
		if err := r.refs.Release(h); err != nil {
			log.WithField("script", s.name).Warn(err)
		}
	}
	r.forget(s)
}

func (r *Registry) known(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, loaded := r.loaded[name]
	_, pending := r.pending[name]
	return loaded || pending
}

func (r *Registry) begin(s *Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[s.name] = s
	r.byEnv[s.env] = s
}

func (r *Registry) commit(s *Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, s.name)
	r.loaded[s.name] = s
	r.order = append(r.order, s.name)
	r.publishLocked()
}

func (r *Registry) forget(s *Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, s.name)
	delete(r.byEnv, s.env)
	if r.loaded[s.name] == s {
		delete(r.loaded, s.name)
		for i, n := range r.order {
			if n == s.name {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
		r.publishLocked()
	}
}

func (r *Registry) publishLocked() {
	snap := make([]*Script, 0, len(r.order))
	for _, n := range r.order {
		snap = append(snap, r.loaded[n])
	}
	r.snapshot.Store(&snap)
}

// Attribute finds the script responsible for the current bridge call: the
// environment of a candidate callback first, then the nearest script frame
// on the Lua call stack.
func (r *Registry) Attribute(L *lua.LState, candidates ...lua.LValue) *Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range candidates {
		if env := luabridge.FunctionEnv(c); env != nil {
			if s, ok := r.byEnv[env]; ok {
				return s
			}
		}
	}
	for _, env := range luabridge.CallerEnvs(L) {
		if s, ok := r.byEnv[env]; ok {
			return s
		}
	}
	return nil
}

// newScriptObject instantiates the Lua Script class for name. Without the
// class a bare table carrying the name is used.
func newScriptObject(L *lua.LState, name string) (*lua.LTable, error) {
	if cls, ok := L.GetGlobal("Script").(*lua.LTable); ok {
		if ctor, ok := L.GetField(cls, "new").(*lua.LFunction); ok {
			if err := luabridge.Call(L, ctor, 1, lua.LString(name)); err != nil {
				return nil, fmt.Errorf("Script.new: %w", err)
			}
			obj := L.Get(-1)
			L.Pop(1)
			if tbl, ok := obj.(*lua.LTable); ok {
				return tbl, nil
			}
			return nil, fmt.Errorf("Script.new returned %s", obj.Type())
		}
	}
	obj := L.NewTable()
	obj.RawSetString("name", lua.LString(name))
	return obj, nil
}
