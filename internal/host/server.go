// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package host

import (
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Server is the object scripts see as the "server" global. It is a thin
// facade over the process: identity, a player list and broadcast.
type Server struct {
	name    string
	version string

	mu      sync.RWMutex
	players map[string]struct{}
	console *ConsoleInvoker
}

// NewServer creates a server facade. console may be nil.
func NewServer(name, version string, console *ConsoleInvoker) *Server {
	return &Server{
		name:    name,
		version: version,
		players: make(map[string]struct{}),
		console: console,
	}
}

// GetName returns the server name.
func (s *Server) GetName() string { return s.name }

// GetVersion returns the server version string.
func (s *Server) GetVersion() string { return s.version }

// Join marks a player as online.
func (s *Server) Join(player string) {
	s.mu.Lock()
	s.players[player] = struct{}{}
	s.mu.Unlock()
}

// Quit marks a player as offline.
func (s *Server) Quit(player string) {
	s.mu.Lock()
	delete(s.players, player)
	s.mu.Unlock()
}

// GetOnlinePlayers lists online players sorted by name.
func (s *Server) GetOnlinePlayers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.players))
	for p := range s.players {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Broadcast sends msg to the console and the log.
func (s *Server) Broadcast(msg string) {
	log.WithField("broadcast", true).Info(msg)
	if s.console != nil {
		s.console.SendMessage(msg)
	}
}

// Complete offers online player names, the default completion of script
// commands.
func (s *Server) Complete(_ Invoker, args []string) []string {
	last := ""
	if len(args) > 0 {
		last = strings.ToLower(args[len(args)-1])
	}
	var out []string
	for _, p := range s.GetOnlinePlayers() {
		if strings.HasPrefix(strings.ToLower(p), last) {
			out = append(out, p)
		}
	}
	return out
}
