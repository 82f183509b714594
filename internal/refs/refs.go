// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package refs keeps Lua values alive past the stack frame that produced
// them. gopher-lua values are ordinary Go heap objects, so a Go map entry is
// enough to pin one; releasing the handle deletes the entry. Handles are
// opaque, never reused and carry a single recorded owner.
//
// Callers must hold the session lock for Retain, Resolve and Release.
package refs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lualink/lualink/internal/luabridge"
	lua "github.com/yuin/gopher-lua"
)

// Handle is an opaque reference to a retained Lua value. The zero Handle is
// never minted.
type Handle int64

// Kind classifies the component responsible for releasing a handle.
type Kind string

const (
	KindCommand Kind = "command"
	KindTask    Kind = "task"
	KindRaw     Kind = "raw"
	KindHook    Kind = "hook"
)

// Owner records who must release a handle. Script is empty for handles that
// are not attributable to a loaded script.
type Owner struct {
	Script string
	Kind   Kind
}

func (o Owner) String() string {
	if o.Script == "" {
		return string(o.Kind)
	}
	return o.Script + "/" + string(o.Kind)
}

type entry struct {
	value lua.LValue
	owner Owner
}

// Registry mints, resolves and releases handles.
type Registry struct {
	mu   sync.Mutex
	next Handle
	live map[Handle]entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{live: make(map[Handle]entry)}
}

// Retain stores v and returns a fresh handle owned by owner.
func (r *Registry) Retain(v lua.LValue, owner Owner) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.live[h] = entry{value: v, owner: owner}
	return h
}

// Resolve returns the value behind h.
func (r *Registry) Resolve(h Handle) (lua.LValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live[h]
	if !ok {
		return lua.LNil, r.staleLocked(h)
	}
	return e.value, nil
}

// Release drops the value behind h. Releasing twice reports
// ErrDoubleRelease; releasing a handle that was never minted reports
// ErrStaleReference.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[h]; !ok {
		if h > 0 && h <= r.next {
			return fmt.Errorf("%w: handle %d", luabridge.ErrDoubleRelease, h)
		}
		return r.staleLocked(h)
	}
	delete(r.live, h)
	return nil
}

// Owner reports the owner of a live handle.
func (r *Registry) Owner(h Handle) (Owner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live[h]
	return e.owner, ok
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// OwnedBy returns the live handles attributed to script, in mint order.
func (r *Registry) OwnedBy(script string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Handle
	for h, e := range r.live {
		if e.owner.Script == script {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) staleLocked(h Handle) error {
	if h > 0 && h <= r.next {
		return fmt.Errorf("%w: handle %d was released", luabridge.ErrStaleReference, h)
	}
	return fmt.Errorf("%w: handle %d was never minted", luabridge.ErrStaleReference, h)
}
