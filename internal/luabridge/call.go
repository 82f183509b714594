// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package luabridge

import lua "github.com/yuin/gopher-lua"

// maxStackWalk bounds CallerEnvs on pathological call stacks.
const maxStackWalk = 256

// Call invokes fn in protected mode, leaving nret results on the stack.
// Lua errors and Go panics raised inside fn are returned, never propagated.
func Call(L *lua.LState, fn lua.LValue, nret int, args ...lua.LValue) error {
	return L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...)
}

// FunctionEnv returns the environment of a Lua-defined function.
func FunctionEnv(v lua.LValue) *lua.LTable {
	fn, ok := v.(*lua.LFunction)
	if !ok || fn.IsG {
		return nil
	}
	return fn.Env
}

// CallerEnvs returns the environments of the Lua-defined functions on the
// current call stack, innermost first. Go functions are skipped.
func CallerEnvs(L *lua.LState) []*lua.LTable {
	var out []*lua.LTable
	for level := 0; level < maxStackWalk; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		fn, err := L.GetInfo("f", dbg, lua.LNil)
		if err != nil {
			continue
		}
		if env := FunctionEnv(fn); env != nil {
			out = append(out, env)
		}
	}
	return out
}
