// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package luabridge holds the pieces shared by every layer that crosses the
// Go/Lua boundary: the error taxonomy and value conversion helpers.
package luabridge

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrStaleReference is reported when a handle that was never minted, or
	// has already been released, is dereferenced.
	ErrStaleReference = errors.New("stale reference")
	// ErrDoubleRelease is reported when a handle is released a second time.
	ErrDoubleRelease = errors.New("reference released twice")
	// ErrClosed is returned by every session operation after Close.
	ErrClosed = errors.New("interpreter session closed")
	// ErrAlreadyLoaded rejects a load whose name is already registered.
	ErrAlreadyLoaded = errors.New("script already loaded")
	// ErrNotLoaded is returned when an operation names an unknown script.
	ErrNotLoaded = errors.New("script not loaded")
	// ErrEngineUnavailable marks a known engine variant that cannot be
	// constructed in this build.
	ErrEngineUnavailable = errors.New("engine variant unavailable")
)

// EngineInitError means no usable interpreter engine could be constructed.
type EngineInitError struct {
	Engine string
	Cause  error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("engine %q init failed: %v", e.Engine, e.Cause)
}

func (e *EngineInitError) Unwrap() error { return e.Cause }

// SupportModuleLoadError means a required internal support script failed.
type SupportModuleLoadError struct {
	Module string
	Cause  error
}

func (e *SupportModuleLoadError) Error() string {
	return fmt.Sprintf("support module %s failed to load: %v", e.Module, e.Cause)
}

func (e *SupportModuleLoadError) Unwrap() error { return e.Cause }

// MissingResourceError means an embedded support file is absent.
type MissingResourceError struct {
	Path string
}

func (e *MissingResourceError) Error() string {
	return "resource not found: " + e.Path
}

// ScriptLoadError is an isolated failure of a single script load.
type ScriptLoadError struct {
	Name  string
	Cause error
}

func (e *ScriptLoadError) Error() string {
	return fmt.Sprintf("script %s failed to load: %v", e.Name, e.Cause)
}

func (e *ScriptLoadError) Unwrap() error { return e.Cause }

// ScriptRuntimeError is a script-side error captured at an invocation
// boundary (command execute, tab completion, task fire, hooks).
type ScriptRuntimeError struct {
	Script  string
	Call    string
	Message string
	Cause   error
}

func (e *ScriptRuntimeError) Error() string {
	var b strings.Builder
	if e.Script != "" {
		b.WriteString(e.Script)
		b.WriteString(": ")
	}
	b.WriteString(e.Call)
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *ScriptRuntimeError) Unwrap() error { return e.Cause }

// NewRuntimeError converts an error returned by a protected call into a
// ScriptRuntimeError. Errors that are already structured pass through.
func NewRuntimeError(script, call string, err error) error {
	if err == nil {
		return nil
	}
	var rt *ScriptRuntimeError
	if errors.As(err, &rt) {
		return err
	}
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	return &ScriptRuntimeError{Script: script, Call: call, Message: msg, Cause: err}
}
