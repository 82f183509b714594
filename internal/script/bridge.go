// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package script

import (
	"errors"
	"fmt"

	"github.com/lualink/lualink/internal/command"
	"github.com/lualink/lualink/internal/luabridge"
	"github.com/lualink/lualink/internal/refs"
	"github.com/lualink/lualink/internal/scheduler"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

var errNoScript = errors.New("must be called from a loaded script")

// Open installs the bridge functions that create script-owned artifacts:
// __registerCommand, __createTask, __scheduleTask, __ref, __unref,
// __resolve, __getAvailableScripts and __syncCommands.
func (r *Registry) Open(L *lua.LState) {
	scheduler.RegisterType(L)
	for name, fn := range map[string]lua.LGFunction{
		"__registerCommand":     r.luaRegisterCommand,
		"__createTask":          r.luaCreateTask,
		"__scheduleTask":        r.luaScheduleTask,
		"__ref":                 r.luaRef,
		"__unref":               r.luaUnref,
		"__resolve":             r.luaResolve,
		"__getAvailableScripts": r.luaAvailableScripts,
		"__syncCommands":        r.luaSyncCommands,
	} {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

// RegisterCommand validates and registers a command for s. The caller
// holds the interpreter lock.
func (r *Registry) RegisterCommand(L *lua.LState, s *Script, handler, metadata lua.LValue) (*command.Command, error) {
	d, err := command.FromLua(L, r.refs, s.name, handler, metadata)
	if err != nil {
		return nil, err
	}
	cmd := r.commands.New(s.name, d)
	if err := cmd.Register(); err != nil {
		r.releaseQuietly(s.name, d.Execute, d.TabComplete)
		return nil, fmt.Errorf("register command %s: %w", d.Name, err)
	}
	s.addCommand(cmd)
	return cmd, nil
}

// CreateTask wraps callback as a task owned by s. The caller holds the
// interpreter lock.
func (r *Registry) CreateTask(L *lua.LState, s *Script, callback lua.LValue, autoRelease bool) (*scheduler.Task, refs.Handle) {
	t, h := r.tasks.Create(L, callback, autoRelease, s.name)
	s.addTask(t)
	return t, h
}

func (r *Registry) releaseQuietly(script string, handles ...refs.Handle) {
	for _, h := range handles {
		if h == 0 {
			continue
		}
		if err := r.refs.Release(h); err != nil {
			log.WithField("script", script).Warn(err)
		}
	}
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// __registerCommand(handler, metadata) -> name | nil, err
func (r *Registry) luaRegisterCommand(L *lua.LState) int {
	handler := L.Get(1)
	s := r.Attribute(L, handler)
	if s == nil {
		return pushError(L, fmt.Errorf("__registerCommand %w", errNoScript))
	}
	cmd, err := r.RegisterCommand(L, s, handler, L.Get(2))
	if err != nil {
		log.WithField("script", s.name).Warn(err)
		return pushError(L, err)
	}
	L.Push(lua.LString(cmd.Name()))
	return 1
}

// __createTask(fn [, autoRelease = true]) -> task, handle
func (r *Registry) luaCreateTask(L *lua.LState) int {
	fn := L.CheckFunction(1)
	autoRelease := L.OptBool(2, true)
	s := r.Attribute(L, fn)
	if s == nil {
		L.RaiseError("__createTask %v", errNoScript)
		return 0
	}
	t, h := r.CreateTask(L, s, fn, autoRelease)
	L.Push(t.UserData())
	L.Push(lua.LNumber(h))
	return 2
}

// __scheduleTask(task, delay, period, async) -> true | nil, err
func (r *Registry) luaScheduleTask(L *lua.LState) int {
	t := scheduler.CheckTask(L, 1)
	delay := L.OptInt64(2, 0)
	period := L.OptInt64(3, 0)
	async := L.OptBool(4, false)
	if delay < 0 || period < 0 {
		return pushError(L, errors.New("delay and period must not be negative"))
	}
	if err := t.Schedule(delay, period, async); err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// __ref(value) -> handle
func (r *Registry) luaRef(L *lua.LState) int {
	v := L.CheckAny(1)
	owner := refs.Owner{Kind: refs.KindRaw}
	if s := r.Attribute(L, v); s != nil {
		owner.Script = s.name
	}
	L.Push(lua.LNumber(r.refs.Retain(v, owner)))
	return 1
}

// __unref(handle) -> true | nil, err. Only raw handles may be released
// from Lua; commands and tasks release their own.
func (r *Registry) luaUnref(L *lua.LState) int {
	h := refs.Handle(L.CheckInt64(1))
	if owner, ok := r.refs.Owner(h); ok && owner.Kind != refs.KindRaw {
		return pushError(L, fmt.Errorf("handle %d belongs to %s", h, owner))
	}
	if err := r.refs.Release(h); err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// __resolve(handle) -> value | nil, err
func (r *Registry) luaResolve(L *lua.LState) int {
	v, err := r.refs.Resolve(refs.Handle(L.CheckInt64(1)))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(v)
	return 1
}

// __getAvailableScripts() -> { name, ... }
func (r *Registry) luaAvailableScripts(L *lua.LState) int {
	var names []string
	if r.storage != nil {
		var err error
		if names, err = r.storage.Names(); err != nil {
			return pushError(L, err)
		}
	}
	L.Push(luabridge.StringsToTable(L, names))
	return 1
}

// __syncCommands()
func (r *Registry) luaSyncCommands(*lua.LState) int {
	r.commands.Table.Sync()
	return 0
}
