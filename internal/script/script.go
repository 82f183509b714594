// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package script

import (
	"sort"
	"sync"
	"time"

	"github.com/lualink/lualink/internal/command"
	"github.com/lualink/lualink/internal/refs"
	"github.com/lualink/lualink/internal/scheduler"
	lua "github.com/yuin/gopher-lua"
)

// Script is one loaded script and everything it registered.
type Script struct {
	name     string
	path     string
	env      *lua.LTable
	object   *lua.LTable
	loadedAt time.Time

	mu         sync.Mutex
	commands   []*command.Command
	tasks      map[*scheduler.Task]struct{}
	unloadHook refs.Handle
}

func newScript(name, path string, env, object *lua.LTable) *Script {
	return &Script{
		name:   name,
		path:   path,
		env:    env,
		object: object,
		tasks:  make(map[*scheduler.Task]struct{}),
	}
}

// Name is the unique script name.
func (s *Script) Name() string { return s.name }

// Path is where the source came from; empty for in-memory loads.
func (s *Script) Path() string { return s.path }

// LoadedAt is when the script finished loading.
func (s *Script) LoadedAt() time.Time { return s.loadedAt }

// Env is the script's global environment. Access it under the lock.
func (s *Script) Env() *lua.LTable { return s.env }

// Object is the Lua-side script instance bound to the global "script".
func (s *Script) Object() *lua.LTable { return s.object }

// Commands lists the names of the commands the script registered.
func (s *Script) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.commands))
	for _, c := range s.commands {
		out = append(out, c.Name())
	}
	return out
}

// ActiveTasks counts tasks that still hold their callback.
func (s *Script) ActiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Script) addCommand(c *command.Command) {
	s.mu.Lock()
	s.commands = append(s.commands, c)
	s.mu.Unlock()
}

func (s *Script) commandList() []*command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*command.Command(nil), s.commands...)
}

func (s *Script) addTask(t *scheduler.Task) {
	s.mu.Lock()
	s.tasks[t] = struct{}{}
	s.mu.Unlock()
	t.OnRelease(s.removeTask)
}

func (s *Script) removeTask(t *scheduler.Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
}

func (s *Script) taskList() []*scheduler.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*scheduler.Task, 0, len(s.tasks))
	for t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle() < out[j].Handle() })
	return out
}
