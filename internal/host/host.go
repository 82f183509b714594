// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package host describes the capabilities LuaLink borrows from the process
// embedding it: a command table, a task scheduler and tab completion. It
// also ships a small in-process implementation of each so the bridge can
// run standalone and be tested end to end.
package host

import "context"

// Invoker is whoever issued a command: a player, the console, a test.
type Invoker interface {
	Name() string
	SendMessage(msg string)
	HasPermission(permission string) bool
}

// Command is a host command backed by some implementation.
type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Permission() string
	// Execute runs the command. The return value reports whether the
	// command handled its input; false makes the host print usage.
	Execute(ctx context.Context, invoker Invoker, label string, args []string) bool
	TabComplete(ctx context.Context, invoker Invoker, alias string, args []string) []string
}

// CommandTable is the host command registry.
type CommandTable interface {
	// Register adds cmd. prefix namespaces the command so it stays
	// reachable as "prefix:name" when the plain name is already taken.
	Register(prefix string, cmd Command) error
	// Unregister removes every label pointing at cmd.
	Unregister(cmd Command)
	// Sync pushes the current command set to connected clients.
	Sync()
}

// Dispatcher routes a raw command line to a registered command.
type Dispatcher interface {
	Dispatch(ctx context.Context, invoker Invoker, line string) bool
}

// Runnable is a unit of work the task runner fires.
type Runnable interface {
	Run(ctx context.Context)
}

// TaskID identifies a scheduled task for cancellation.
type TaskID string

// TaskRunner schedules work on the host's main loop or its async pool.
// Delays and periods are counted in host ticks.
type TaskRunner interface {
	Schedule(task Runnable, delay, period int64, async bool) (TaskID, error)
	Cancel(id TaskID)
}

// Completer supplies default tab completions, typically online players.
type Completer interface {
	Complete(invoker Invoker, args []string) []string
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(invoker Invoker, args []string) []string

// Complete calls f.
func (f CompleterFunc) Complete(invoker Invoker, args []string) []string {
	return f(invoker, args)
}
