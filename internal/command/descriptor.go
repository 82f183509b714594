// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package command

import (
	"fmt"
	"strings"

	"github.com/lualink/lualink/internal/luabridge"
	"github.com/lualink/lualink/internal/refs"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Descriptor is the validated shape of a script command.
type Descriptor struct {
	Name        string
	Description string
	Usage       string
	Permission  string
	Aliases     []string
	// Execute is mandatory; TabComplete is zero when the script did not
	// supply a completer.
	Execute     refs.Handle
	TabComplete refs.Handle
}

// CommandError rejects one command registration without affecting the
// rest of the script.
type CommandError struct {
	Script string
	Name   string
	Reason string
}

func (e *CommandError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: invalid command: %s", e.Script, e.Reason)
	}
	return fmt.Sprintf("%s: invalid command %s: %s", e.Script, e.Name, e.Reason)
}

// FromLua validates a handler and its metadata table and retains the
// callbacks on success. Optional fields of the wrong kind are ignored and
// replaced by their defaults; a missing handler or name fails the command.
// The caller must hold the interpreter lock.
func FromLua(L *lua.LState, r *refs.Registry, script string, handler, metadata lua.LValue) (Descriptor, error) {
	meta, ok := metadata.(*lua.LTable)
	if !ok {
		return Descriptor{}, &CommandError{Script: script, Reason: "metadata must be a table, got " + metadata.Type().String()}
	}
	name := strings.TrimSpace(stringField(script, meta, "name"))
	if name == "" {
		return Descriptor{}, &CommandError{Script: script, Reason: "metadata.name is required"}
	}
	if strings.ContainsAny(name, " \t:") {
		return Descriptor{}, &CommandError{Script: script, Name: name, Reason: "name must not contain spaces or colons"}
	}
	if _, ok := handler.(*lua.LFunction); !ok {
		return Descriptor{}, &CommandError{Script: script, Name: name, Reason: "handler must be a function, got " + handler.Type().String()}
	}

	d := Descriptor{
		Name:        name,
		Description: stringField(script, meta, "description"),
		Usage:       stringField(script, meta, "usage"),
		Permission:  stringField(script, meta, "permission"),
		Aliases:     aliasesField(script, meta),
	}
	if d.Usage == "" {
		d.Usage = "/" + name
	}

	owner := refs.Owner{Script: script, Kind: refs.KindCommand}
	d.Execute = r.Retain(handler, owner)
	switch tc := meta.RawGetString("tabComplete").(type) {
	case *lua.LFunction:
		d.TabComplete = r.Retain(tc, owner)
	case *lua.LNilType:
	default:
		log.WithField("script", script).Debugf("command %s: ignoring tabComplete of type %s", name, tc.Type())
	}
	return d, nil
}

func stringField(script string, meta *lua.LTable, key string) string {
	switch v := meta.RawGetString(key).(type) {
	case lua.LString:
		return string(v)
	case *lua.LNilType:
		return ""
	default:
		log.WithField("script", script).Debugf("ignoring command field %s of type %s", key, v.Type())
		return ""
	}
}

func aliasesField(script string, meta *lua.LTable) []string {
	var raw []string
	switch v := meta.RawGetString("aliases").(type) {
	case *lua.LTable:
		raw = luabridge.StringList(v)
	case lua.LString:
		raw = []string{string(v)}
	case *lua.LNilType:
	default:
		log.WithField("script", script).Debugf("ignoring command field aliases of type %s", v.Type())
	}
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
