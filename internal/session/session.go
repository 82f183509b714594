// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session owns the single interpreter of a host process. Every
// access to the interpreter goes through WithLock, which serializes callers
// across goroutines while letting a holder re-enter through its context.
package session

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/lualink/lualink/internal/command"
	"github.com/lualink/lualink/internal/engine"
	"github.com/lualink/lualink/internal/host"
	"github.com/lualink/lualink/internal/luabridge"
	"github.com/lualink/lualink/internal/refs"
	"github.com/lualink/lualink/internal/rlock"
	"github.com/lualink/lualink/internal/scheduler"
	"github.com/lualink/lualink/internal/script"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

//go:embed lua/*.lua
var supportFS embed.FS

// Options configures a session.
type Options struct {
	// Runtime names the preferred engine variant; empty selects the default.
	Runtime string
	Engine  engine.Options
	// Catalog overrides the engine variants on offer.
	Catalog *engine.Catalog
	// Support overrides the embedded support modules (lua/*.lua).
	Support fs.FS

	Storage       script.Storage
	Commands      host.CommandTable
	Tasks         host.TaskRunner
	Completer     host.Completer
	Dispatcher    host.Dispatcher
	CommandPrefix string

	// Server and Plugin are exposed to scripts as "server" and "__plugin".
	Server any
	Plugin any
}

// Session is the interpreter plus everything bound to it.
type Session struct {
	L       *lua.LState
	variant engine.Variant
	lock    *rlock.Mutex
	refs    *refs.Registry
	scripts *script.Registry

	dispatcher host.Dispatcher

	// holder is the context of the innermost lock acquisition. Only the
	// goroutine holding lock reads or writes it.
	holder context.Context

	objMu    sync.Mutex
	objLocks map[any]*rlock.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates the interpreter, installs the bridge and runs the support
// modules. Any failure closes the interpreter again.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Commands == nil || opts.Tasks == nil {
		return nil, errors.New("session requires a command table and a task runner")
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = engine.DefaultCatalog()
	}
	support := opts.Support
	if support == nil {
		support = supportFS
	}

	L, variant, err := catalog.Open(opts.Runtime, opts.Engine)
	if err != nil {
		return nil, err
	}

	s := &Session{
		L:        L,
		variant:  variant,
		lock:     rlock.New(),
		refs:     refs.New(),
		objLocks: make(map[any]*rlock.Mutex),
	}
	s.dispatcher = opts.Dispatcher
	if s.dispatcher == nil {
		if d, ok := opts.Commands.(host.Dispatcher); ok {
			s.dispatcher = d
		}
	}
	s.scripts = script.NewRegistry(script.Options{
		Locker:  s,
		Refs:    s.refs,
		Storage: opts.Storage,
		Commands: &command.Bridge{
			Locker:    s,
			Refs:      s.refs,
			Table:     opts.Commands,
			Completer: opts.Completer,
			Prefix:    opts.CommandPrefix,
		},
		Tasks: &scheduler.Bridge{Locker: s, Refs: s.refs, Runner: opts.Tasks},
	})

	err = s.WithLock(ctx, func(_ context.Context, L *lua.LState) error {
		s.scripts.Open(L)
		s.openGlobals(L, opts)
		luabridge.OpenJSON(L)
		return loadSupport(L, support)
	})
	if err != nil {
		s.closed.Store(true)
		L.Close()
		return nil, err
	}
	log.Debugf("interpreter session ready (%s)", variant.Display)
	return s, nil
}

// WithLock runs fn with exclusive access to the interpreter. Passing the
// ctx handed to fn (or one derived from it) to a nested WithLock re-enters
// instead of deadlocking. Bridge functions get the same context from
// LockContext, which holds for coroutines created under an earlier
// acquisition too.
func (s *Session) WithLock(ctx context.Context, fn func(ctx context.Context, L *lua.LState) error) error {
	if s.closed.Load() {
		return luabridge.ErrClosed
	}
	lctx, unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if s.closed.Load() {
		return luabridge.ErrClosed
	}

	prev := s.L.Context()
	s.L.SetContext(lctx)
	prevHolder := s.holder
	s.holder = lctx
	defer func() {
		s.holder = prevHolder
		if prev != nil {
			s.L.SetContext(prev)
		} else {
			s.L.RemoveContext()
		}
	}()
	return fn(lctx, s.L)
}

// LockContext returns the context of the current lock holder, or nil when
// the lock is free. Only meaningful while the caller holds the lock.
func (s *Session) LockContext() context.Context {
	return s.holder
}

// Call runs fn under the session lock and returns its result.
func Call[R any](ctx context.Context, s *Session, fn func(ctx context.Context, L *lua.LState) (R, error)) (R, error) {
	var out R
	err := s.WithLock(ctx, func(ctx context.Context, L *lua.LState) error {
		var err error
		out, err = fn(ctx, L)
		return err
	})
	return out, err
}

// Scripts returns the script registry.
func (s *Session) Scripts() *script.Registry { return s.scripts }

// Refs returns the reference registry.
func (s *Session) Refs() *refs.Registry { return s.refs }

// Runtime is the human readable name of the engine in use.
func (s *Session) Runtime() string { return s.variant.Display }

// Variant is the engine variant in use.
func (s *Session) Variant() engine.Variant { return s.variant }

// Closed reports whether Close has run.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close unloads every script and closes the interpreter. Later calls do
// nothing; other operations fail with ErrClosed.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.closed.Load() {
			return
		}
		ctx := context.Background()
		err = s.scripts.UnloadAll(ctx)

		_, unlock, lockErr := s.lock.Lock(ctx)
		if lockErr == nil {
			defer unlock()
		}
		s.closed.Store(true)
		s.L.Close()
		log.Debug("interpreter session closed")
	})
	return err
}
