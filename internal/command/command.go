// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package command exposes script-defined commands to the host command
// table. Script failures never escape a command: they are logged once and
// the command reports itself as handled.
package command

import (
	"context"
	"strings"
	"sync"

	"github.com/lualink/lualink/internal/host"
	"github.com/lualink/lualink/internal/luabridge"
	"github.com/lualink/lualink/internal/refs"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	luar "layeh.com/gopher-luar"
)

// DefaultPrefix namespaces script commands in the host table.
const DefaultPrefix = "lualinkscript"

// Locker runs fn while holding the interpreter lock.
type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context, L *lua.LState) error) error
}

// Bridge holds what every script command needs from the session and host.
type Bridge struct {
	Locker    Locker
	Refs      *refs.Registry
	Table     host.CommandTable
	Completer host.Completer
	Prefix    string
}

// Command is a host command backed by Lua callbacks.
type Command struct {
	bridge *Bridge
	script string
	desc   Descriptor

	mu         sync.Mutex
	registered bool
}

var _ host.Command = (*Command)(nil)

// New wraps a descriptor produced by FromLua.
func (b *Bridge) New(script string, d Descriptor) *Command {
	return &Command{bridge: b, script: script, desc: d}
}

func (c *Command) Name() string        { return c.desc.Name }
func (c *Command) Aliases() []string   { return append([]string(nil), c.desc.Aliases...) }
func (c *Command) Description() string { return c.desc.Description }
func (c *Command) Usage() string       { return c.desc.Usage }
func (c *Command) Permission() string  { return c.desc.Permission }

// Script names the owning script.
func (c *Command) Script() string { return c.script }

// Descriptor returns the validated descriptor.
func (c *Command) Descriptor() Descriptor { return c.desc }

// Register adds the command to the host table.
func (c *Command) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered {
		return nil
	}
	prefix := c.bridge.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := c.bridge.Table.Register(prefix, c); err != nil {
		return err
	}
	c.registered = true
	return nil
}

// Revoke removes the command from the host table. Reference handles are
// left to the owning script.
func (c *Command) Revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registered {
		return
	}
	c.bridge.Table.Unregister(c)
	c.registered = false
}

// Registered reports whether the command is in the host table.
func (c *Command) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// Execute calls handler(invoker, args, label). It always reports the
// command as handled; a failing handler is logged once.
func (c *Command) Execute(ctx context.Context, invoker host.Invoker, label string, args []string) bool {
	err := c.bridge.Locker.WithLock(ctx, func(_ context.Context, L *lua.LState) error {
		fn, err := c.bridge.Refs.Resolve(c.desc.Execute)
		if err != nil {
			return err
		}
		return luabridge.Call(L, fn, 0, luar.New(L, invoker), luabridge.StringsToTable(L, args), lua.LString(label))
	})
	if err != nil {
		c.logFailure("command "+c.desc.Name, err)
	}
	return true
}

// TabComplete calls the script completer with (invoker, args, alias). A
// missing completer, or one that does not return a table, falls back to
// the host default. Results are filtered to those containing the last
// argument, ignoring case.
func (c *Command) TabComplete(ctx context.Context, invoker host.Invoker, alias string, args []string) []string {
	if c.desc.TabComplete == 0 {
		return c.fallback(invoker, args)
	}

	var (
		out         []string
		useFallback bool
	)
	err := c.bridge.Locker.WithLock(ctx, func(_ context.Context, L *lua.LState) error {
		fn, err := c.bridge.Refs.Resolve(c.desc.TabComplete)
		if err != nil {
			return err
		}
		if err := luabridge.Call(L, fn, 1, luar.New(L, invoker), luabridge.StringsToTable(L, args), lua.LString(alias)); err != nil {
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)
		tbl, ok := ret.(*lua.LTable)
		if !ok {
			useFallback = true
			return nil
		}
		out = luabridge.StringList(tbl)
		return nil
	})
	if err != nil {
		c.logFailure("tab complete "+c.desc.Name, err)
		return nil
	}
	if useFallback {
		return c.fallback(invoker, args)
	}
	return filter(out, args)
}

func (c *Command) fallback(invoker host.Invoker, args []string) []string {
	if c.bridge.Completer == nil {
		return nil
	}
	return filter(c.bridge.Completer.Complete(invoker, args), args)
}

func (c *Command) logFailure(call string, err error) {
	log.WithFields(log.Fields{
		"script":  c.script,
		"command": c.desc.Name,
	}).Error(luabridge.NewRuntimeError(c.script, call, err))
}

func filter(candidates, args []string) []string {
	if len(args) == 0 {
		return candidates
	}
	last := strings.ToLower(args[len(args)-1])
	if last == "" {
		return candidates
	}
	out := make([]string, 0, len(candidates))
	for _, s := range candidates {
		if strings.Contains(strings.ToLower(s), last) {
			out = append(out, s)
		}
	}
	return out
}
