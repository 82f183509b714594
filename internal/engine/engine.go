// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine constructs the embedded Lua interpreter. It knows which
// engine variants exist, which of them this build can actually provide, and
// which standard libraries a fresh state receives.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lualink/lualink/internal/luabridge"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Variant names accepted by the runtime configuration value.
const (
	GopherLua = "gopher-lua"
	LuaJIT    = "luajit"
	Lua54     = "lua54"
)

// Options tune a freshly created state.
type Options struct {
	// Sandbox restricts the library surface to the safe subset.
	Sandbox bool
	// RegistrySize and CallStackSize override the gopher-lua defaults when > 0.
	RegistrySize  int
	CallStackSize int
	// MinimizeStackMemory trades speed for a smaller per-call footprint.
	MinimizeStackMemory bool
	// IncludeGoStackTrace attaches Go stack traces to recovered panics.
	IncludeGoStackTrace bool
}

// Factory builds a bare state for a variant. It must not open libraries.
type Factory func(opts Options) (*lua.LState, error)

// Variant describes one engine implementation.
type Variant struct {
	Name    string
	Display string
	// Factory is nil for variants that are known but not linked into this build.
	Factory Factory
}

// Catalog is the set of variants a session may choose from.
type Catalog struct {
	variants map[string]Variant
	fallback string
}

// DefaultCatalog returns the variants of a pure Go build. LuaJIT and Lua 5.4
// are recognised names that need native linkage, so selecting them degrades
// to gopher-lua.
func DefaultCatalog() *Catalog {
	c := &Catalog{variants: make(map[string]Variant), fallback: GopherLua}
	c.Register(Variant{Name: GopherLua, Display: "gopher-lua (Lua 5.1)", Factory: newGopherState})
	c.Register(Variant{Name: LuaJIT, Display: "LuaJIT"})
	c.Register(Variant{Name: Lua54, Display: "Lua 5.4"})
	return c
}

// Register adds or replaces a variant.
func (c *Catalog) Register(v Variant) {
	c.variants[strings.ToLower(v.Name)] = v
}

// Names lists the known variant names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.variants))
	for name := range c.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open constructs the preferred variant. A known variant that cannot be
// constructed degrades to the fallback with a warning; an unknown name is
// rejected. The returned state already has its libraries opened.
func (c *Catalog) Open(preferred string, opts Options) (*lua.LState, Variant, error) {
	name := strings.ToLower(strings.TrimSpace(preferred))
	if name == "" {
		name = c.fallback
	}

	v, ok := c.variants[name]
	if !ok {
		return nil, Variant{}, &luabridge.EngineInitError{
			Engine: preferred,
			Cause:  fmt.Errorf("unsupported runtime, expected one of %s", strings.Join(c.Names(), ", ")),
		}
	}

	L, err := build(v, opts)
	if err == nil {
		log.Infof("initialized %s", v.Display)
		return L, v, nil
	}
	if name == c.fallback {
		return nil, Variant{}, &luabridge.EngineInitError{Engine: v.Name, Cause: err}
	}

	fb := c.variants[c.fallback]
	log.Warnf("%s failed to load (%v), falling back to %s", v.Display, err, fb.Display)
	L, fbErr := build(fb, opts)
	if fbErr != nil {
		return nil, Variant{}, &luabridge.EngineInitError{Engine: fb.Name, Cause: errors.Join(err, fbErr)}
	}
	return L, fb, nil
}

func build(v Variant, opts Options) (L *lua.LState, err error) {
	if v.Factory == nil {
		return nil, luabridge.ErrEngineUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while creating state: %v", r)
		}
	}()
	L, err = v.Factory(opts)
	if err != nil {
		return nil, err
	}
	if err = OpenLibs(L, opts.Sandbox); err != nil {
		L.Close()
		return nil, err
	}
	return L, nil
}

func newGopherState(opts Options) (*lua.LState, error) {
	return lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		RegistrySize:        opts.RegistrySize,
		CallStackSize:       opts.CallStackSize,
		MinimizeStackMemory: opts.MinimizeStackMemory,
		IncludeGoStackTrace: opts.IncludeGoStackTrace,
	}), nil
}
