// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package host

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// noPermissionMessage is sent to invokers lacking a command's permission.
const noPermissionMessage = "You do not have permission to use this command."

// CommandMap is an in-memory CommandTable and Dispatcher. Labels are case
// insensitive.
type CommandMap struct {
	mu     sync.RWMutex
	labels map[string]Command
	syncs  int
}

// NewCommandMap returns an empty command map.
func NewCommandMap() *CommandMap {
	return &CommandMap{labels: make(map[string]Command)}
}

// Register adds cmd under its name and aliases. The prefixed label is always
// registered; plain labels that are already taken keep their first owner.
func (m *CommandMap) Register(prefix string, cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name()))
	if name == "" {
		return errors.New("command name is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prefix != "" {
		m.labels[strings.ToLower(prefix)+":"+name] = cmd
	}
	labels := append([]string{name}, cmd.Aliases()...)
	for _, label := range labels {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		if existing, ok := m.labels[label]; ok && existing != cmd {
			log.Debugf("command label %s already taken, keeping %s", label, existing.Name())
			continue
		}
		m.labels[label] = cmd
	}
	return nil
}

// Unregister removes every label pointing at cmd.
func (m *CommandMap) Unregister(cmd Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for label, c := range m.labels {
		if c == cmd {
			delete(m.labels, label)
		}
	}
}

// Sync records that the command tree was pushed to clients.
func (m *CommandMap) Sync() {
	m.mu.Lock()
	m.syncs++
	m.mu.Unlock()
	log.Debug("command tree synchronized")
}

// Syncs reports how many times Sync was called.
func (m *CommandMap) Syncs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncs
}

// Lookup finds the command registered under label.
func (m *CommandMap) Lookup(label string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cmd, ok := m.labels[strings.ToLower(label)]
	return cmd, ok
}

// Labels lists every registered label in sorted order.
func (m *CommandMap) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.labels))
	for label := range m.labels {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Dispatch parses line ("label arg1 arg2", an optional leading slash is
// ignored) and executes the matching command. It reports false when no
// command matches.
func (m *CommandMap) Dispatch(ctx context.Context, invoker Invoker, line string) bool {
	label, args := splitLine(line)
	if label == "" {
		return false
	}
	cmd, ok := m.Lookup(label)
	if !ok {
		return false
	}
	if perm := cmd.Permission(); perm != "" && !invoker.HasPermission(perm) {
		invoker.SendMessage(noPermissionMessage)
		return true
	}
	if !cmd.Execute(ctx, invoker, label, args) && cmd.Usage() != "" {
		invoker.SendMessage(cmd.Usage())
	}
	return true
}

// Complete returns completions for a partially typed line. A single word
// completes command labels; otherwise the command's own completer runs.
func (m *CommandMap) Complete(ctx context.Context, invoker Invoker, line string) []string {
	trimmed := strings.TrimPrefix(line, "/")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(trimmed, " ")) {
		prefix := ""
		if len(fields) == 1 {
			prefix = strings.ToLower(fields[0])
		}
		var out []string
		for _, label := range m.Labels() {
			if strings.HasPrefix(label, prefix) && !strings.Contains(label, ":") {
				out = append(out, label)
			}
		}
		return out
	}

	cmd, ok := m.Lookup(fields[0])
	if !ok {
		return nil
	}
	args := fields[1:]
	if strings.HasSuffix(trimmed, " ") {
		args = append(args, "")
	}
	return cmd.TabComplete(ctx, invoker, fields[0], args)
}

func splitLine(line string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}
