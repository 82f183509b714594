// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler wraps Lua callbacks as host tasks. A Task keeps its
// callback alive through a reference handle and releases that handle
// exactly once: after its single firing when auto-release is on, or when
// it is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/lualink/lualink/internal/host"
	"github.com/lualink/lualink/internal/luabridge"
	"github.com/lualink/lualink/internal/refs"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Locker runs fn while holding the interpreter lock.
type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context, L *lua.LState) error) error
}

// ContextHolder is implemented by lockers that record the context of the
// current lock holder. Bridge functions re-enter the lock with it.
type ContextHolder interface {
	LockContext() context.Context
}

// Bridge creates tasks bound to one interpreter session.
type Bridge struct {
	Locker Locker
	Refs   *refs.Registry
	Runner host.TaskRunner
}

// Task is a scheduled Lua callback.
type Task struct {
	bridge      *Bridge
	handle      refs.Handle
	script      string
	autoRelease bool
	ud          *lua.LUserData

	mu        sync.Mutex
	id        host.TaskID
	cancelled bool
	released  bool
	runs      int
	onRelease func(*Task)
}

// Create retains callback and wraps it in a Task. The caller must hold the
// interpreter lock.
func (b *Bridge) Create(L *lua.LState, callback lua.LValue, autoRelease bool, script string) (*Task, refs.Handle) {
	h := b.Refs.Retain(callback, refs.Owner{Script: script, Kind: refs.KindTask})
	t := &Task{
		bridge:      b,
		handle:      h,
		script:      script,
		autoRelease: autoRelease,
	}
	t.ud = L.NewUserData()
	t.ud.Value = t
	L.SetMetatable(t.ud, L.GetTypeMetatable(typeName))
	return t, h
}

// lockContext returns the context a bridge function running on L should
// pass to a nested WithLock.
func (b *Bridge) lockContext(L *lua.LState) context.Context {
	if h, ok := b.Locker.(ContextHolder); ok {
		if ctx := h.LockContext(); ctx != nil {
			return ctx
		}
	}
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Handle returns the reference handle of the callback.
func (t *Task) Handle() refs.Handle { return t.handle }

// Script names the owning script.
func (t *Task) Script() string { return t.script }

// UserData is the Lua-side view of the task.
func (t *Task) UserData() *lua.LUserData { return t.ud }

// OnRelease installs a hook that runs once, right after the handle is
// released, while the interpreter lock is held.
func (t *Task) OnRelease(fn func(*Task)) {
	t.mu.Lock()
	t.onRelease = fn
	t.mu.Unlock()
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Released reports whether the callback handle has been released.
func (t *Task) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

// Runs counts completed firings.
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Schedule hands the task to the host runner. Repeating tasks never
// auto-release; they release when cancelled.
func (t *Task) Schedule(delay, period int64, async bool) error {
	t.mu.Lock()
	if t.cancelled || t.released {
		t.mu.Unlock()
		return fmt.Errorf("task %d is no longer active", t.handle)
	}
	if period > 0 {
		t.autoRelease = false
	}
	t.mu.Unlock()

	id, err := t.bridge.Runner.Schedule(t, delay, period, async)
	if err != nil {
		return fmt.Errorf("schedule task %d: %w", t.handle, err)
	}

	t.mu.Lock()
	t.id = id
	cancelled := t.cancelled
	t.mu.Unlock()
	if cancelled {
		t.bridge.Runner.Cancel(id)
	}
	return nil
}

// Run fires the callback with the task as its only argument. Errors are
// logged against the owning script. Satisfies host.Runnable.
func (t *Task) Run(ctx context.Context) {
	if t.Cancelled() || t.Released() {
		return
	}
	err := t.bridge.Locker.WithLock(ctx, func(ctx context.Context, L *lua.LState) error {
		// Cancelled while this run waited for the lock.
		if t.Cancelled() || t.Released() {
			return nil
		}
		fn, err := t.bridge.Refs.Resolve(t.handle)
		if err != nil {
			return err
		}
		callErr := luabridge.Call(L, fn, 0, t.ud)

		t.mu.Lock()
		t.runs++
		release := t.autoRelease
		t.mu.Unlock()
		if release {
			t.release()
		}
		return callErr
	})
	if err != nil {
		log.WithField("script", t.script).Error(luabridge.NewRuntimeError(t.script, fmt.Sprintf("task %d", t.handle), err))
	}
}

// Cancel stops future firings and releases the callback. Cancelling twice
// is a no-op.
func (t *Task) Cancel(ctx context.Context) error {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return nil
	}
	t.cancelled = true
	id := t.id
	t.mu.Unlock()

	if id != "" {
		t.bridge.Runner.Cancel(id)
	}
	return t.bridge.Locker.WithLock(ctx, func(context.Context, *lua.LState) error {
		t.release()
		return nil
	})
}

// release drops the callback handle once. Caller holds the interpreter lock.
func (t *Task) release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	hook := t.onRelease
	t.mu.Unlock()

	if err := t.bridge.Refs.Release(t.handle); err != nil {
		log.WithField("script", t.script).Warnf("task %d: %v", t.handle, err)
	}
	if hook != nil {
		hook(t)
	}
}
