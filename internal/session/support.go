// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"errors"
	"io/fs"
	"path"

	"github.com/lualink/lualink/internal/luabridge"
	lua "github.com/yuin/gopher-lua"
)

// supportModules run in this order before any script loads.
var supportModules = []string{"class.lua", "script.lua", "scheduler.lua"}

func loadSupport(L *lua.LState, fsys fs.FS) error {
	for _, name := range supportModules {
		p := path.Join("lua", name)
		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &luabridge.MissingResourceError{Path: p}
			}
			return &luabridge.SupportModuleLoadError{Module: name, Cause: err}
		}
		fn, err := L.Load(bytes.NewReader(b), name)
		if err != nil {
			return &luabridge.SupportModuleLoadError{Module: name, Cause: err}
		}
		if err := luabridge.Call(L, fn, 0); err != nil {
			return &luabridge.SupportModuleLoadError{Module: name, Cause: luabridge.NewRuntimeError("", name, err)}
		}
	}
	return nil
}
