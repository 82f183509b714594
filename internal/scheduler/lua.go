// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

const typeName = "lualink.task"

// RegisterType installs the task metatable. Tasks expose cancel(),
// isCancelled() and handle() to scripts.
func RegisterType(L *lua.LState) {
	mt := L.NewTypeMetatable(typeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"cancel":      taskCancel,
		"isCancelled": taskIsCancelled,
		"handle":      taskHandle,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		t := CheckTask(L, 1)
		L.Push(lua.LString(fmt.Sprintf("task#%d", t.handle)))
		return 1
	}))
}

// CheckTask returns the task at stack position n or raises an argument error.
func CheckTask(L *lua.LState, n int) *Task {
	ud := L.CheckUserData(n)
	if t, ok := ud.Value.(*Task); ok {
		return t
	}
	L.ArgError(n, "task expected")
	return nil
}

func taskCancel(L *lua.LState) int {
	t := CheckTask(L, 1)
	if err := t.Cancel(t.bridge.lockContext(L)); err != nil {
		L.RaiseError("cancel task: %v", err)
	}
	return 0
}

func taskIsCancelled(L *lua.LState) int {
	L.Push(lua.LBool(CheckTask(L, 1).Cancelled()))
	return 1
}

func taskHandle(L *lua.LState) int {
	L.Push(lua.LNumber(CheckTask(L, 1).handle))
	return 1
}
