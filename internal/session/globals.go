// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"errors"
	"reflect"

	"github.com/lualink/lualink/internal/host"
	"github.com/lualink/lualink/internal/rlock"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	luar "layeh.com/gopher-luar"
)

func (s *Session) openGlobals(L *lua.LState, opts Options) {
	if opts.Server != nil {
		L.SetGlobal("server", luar.New(L, opts.Server))
	}
	if opts.Plugin != nil {
		L.SetGlobal("__plugin", luar.New(L, opts.Plugin))
	}
	L.SetGlobal("__synchronized", L.NewFunction(s.luaSynchronized))
	L.SetGlobal("__log", L.NewFunction(s.luaLog))
	L.SetGlobal("__dispatchCommand", L.NewFunction(s.luaDispatchCommand))
}

// lockContext is the context bridge functions re-enter the lock with. A
// coroutine's own L.Context() is copied from its creator and goes stale
// once that acquisition ends, so the session's record wins.
func (s *Session) lockContext(L *lua.LState) context.Context {
	if ctx := s.holder; ctx != nil {
		return ctx
	}
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// __synchronized(obj, fn, ...) runs fn(...) holding a reentrant lock tied
// to obj and returns fn's results. Errors raised by fn propagate after the
// lock is released.
func (s *Session) luaSynchronized(L *lua.LState) int {
	obj := L.CheckAny(1)
	fn := L.CheckFunction(2)
	if obj == lua.LNil {
		L.ArgError(1, "object expected, got nil")
		return 0
	}
	args := make([]lua.LValue, 0, L.GetTop()-2)
	for i := 3; i <= L.GetTop(); i++ {
		args = append(args, L.Get(i))
	}

	key := objectKey(obj)
	m := s.objectLock(key)
	outer := s.lockContext(L)
	octx, unlock, err := m.Lock(outer)
	if err != nil {
		L.RaiseError("synchronized: %v", err)
		return 0
	}
	prevHolder := s.holder
	s.holder = octx
	L.SetContext(octx)

	base := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	callErr := L.PCall(len(args), lua.MultRet, nil)

	L.SetContext(outer)
	s.holder = prevHolder
	unlock()
	s.dropObjectLock(key, m)

	if callErr != nil {
		var apiErr *lua.ApiError
		if errors.As(callErr, &apiErr) && apiErr.Object != nil {
			L.Error(apiErr.Object, 0)
		}
		L.RaiseError("%v", callErr)
		return 0
	}
	return L.GetTop() - base
}

// objectKey identifies obj for locking. Host objects wrapped as userdata
// lock on the wrapped Go value so every wrapper of it shares one lock.
func objectKey(obj lua.LValue) any {
	if ud, ok := obj.(*lua.LUserData); ok && ud.Value != nil && reflect.TypeOf(ud.Value).Comparable() {
		return ud.Value
	}
	return obj
}

func (s *Session) objectLock(key any) *rlock.Mutex {
	s.objMu.Lock()
	defer s.objMu.Unlock()
	m, ok := s.objLocks[key]
	if !ok {
		m = rlock.New()
		s.objLocks[key] = m
	}
	return m
}

func (s *Session) dropObjectLock(key any, m *rlock.Mutex) {
	s.objMu.Lock()
	defer s.objMu.Unlock()
	if m.Depth() == 0 && s.objLocks[key] == m {
		delete(s.objLocks, key)
	}
}

// __log(level, message [, script])
func (s *Session) luaLog(L *lua.LState) int {
	level, err := log.ParseLevel(L.CheckString(1))
	if err != nil {
		level = log.InfoLevel
	}
	msg := L.CheckString(2)
	name := L.OptString(3, "")
	if name == "" {
		if sc := s.scripts.Attribute(L); sc != nil {
			name = sc.Name()
		}
	}
	entry := log.NewEntry(log.StandardLogger())
	if name != "" {
		entry = entry.WithField("script", name)
	}
	entry.Log(level, msg)
	return 0
}

// __dispatchCommand(sender, line) -> handled
func (s *Session) luaDispatchCommand(L *lua.LState) int {
	ud := L.CheckUserData(1)
	line := L.CheckString(2)
	inv, ok := ud.Value.(host.Invoker)
	if !ok {
		L.ArgError(1, "command sender expected")
		return 0
	}
	if s.dispatcher == nil {
		L.RaiseError("no command dispatcher available")
		return 0
	}
	L.Push(lua.LBool(s.dispatcher.Dispatch(s.lockContext(L), inv, line)))
	return 1
}
