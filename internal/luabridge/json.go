// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package luabridge

import (
	json "github.com/goccy/go-json"
	lua "github.com/yuin/gopher-lua"
)

// JSONModuleName is the global under which OpenJSON installs its table.
const JSONModuleName = "json"

// OpenJSON installs the json module: json.encode(value) and json.decode(str).
// Both return (nil, message) on failure instead of raising.
func OpenJSON(L *lua.LState) {
	mod := L.NewTable()

	L.SetField(mod, "encode", L.NewFunction(func(L *lua.LState) int {
		v, err := FromLua(L.CheckAny(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		b, err := json.Marshal(v)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(string(b)))
		return 1
	}))

	L.SetField(mod, "decode", L.NewFunction(func(L *lua.LState) int {
		var out any
		if err := json.Unmarshal([]byte(L.CheckString(1)), &out); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(ToLua(L, out))
		return 1
	}))

	L.SetGlobal(JSONModuleName, mod)
}
