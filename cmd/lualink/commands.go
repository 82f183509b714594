// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"strings"

	"github.com/lualink/lualink/internal/host"
)

// helpCommand lists every plain command label.
type helpCommand struct {
	table *host.CommandMap
}

func (c *helpCommand) Name() string        { return "help" }
func (c *helpCommand) Aliases() []string   { return []string{"?"} }
func (c *helpCommand) Description() string { return "List commands" }
func (c *helpCommand) Usage() string       { return "/help" }
func (c *helpCommand) Permission() string  { return "" }

func (c *helpCommand) Execute(_ context.Context, invoker host.Invoker, _ string, _ []string) bool {
	var plain []string
	for _, label := range c.table.Labels() {
		if !strings.Contains(label, ":") {
			plain = append(plain, label)
		}
	}
	invoker.SendMessage("Commands: " + strings.Join(plain, ", "))
	return true
}

func (c *helpCommand) TabComplete(context.Context, host.Invoker, string, []string) []string {
	return nil
}

// stopCommand shuts the host down.
type stopCommand struct {
	stop context.CancelFunc
}

func (c *stopCommand) Name() string        { return "stop" }
func (c *stopCommand) Aliases() []string   { return nil }
func (c *stopCommand) Description() string { return "Stop the host" }
func (c *stopCommand) Usage() string       { return "/stop" }
func (c *stopCommand) Permission() string  { return "lualink.stop" }

func (c *stopCommand) Execute(_ context.Context, invoker host.Invoker, _ string, _ []string) bool {
	invoker.SendMessage("Stopping...")
	c.stop()
	return true
}

func (c *stopCommand) TabComplete(context.Context, host.Invoker, string, []string) []string {
	return nil
}

// playerCommand simulates players joining and leaving so scripts see a
// populated server.
type playerCommand struct {
	server *host.Server
	join   bool
}

func (c *playerCommand) Name() string {
	if c.join {
		return "join"
	}
	return "quit"
}

func (c *playerCommand) Aliases() []string   { return nil }
func (c *playerCommand) Description() string { return "Simulate a player " + c.Name() }
func (c *playerCommand) Usage() string       { return "/" + c.Name() + " <player>" }
func (c *playerCommand) Permission() string  { return "lualink.players" }

func (c *playerCommand) Execute(_ context.Context, _ host.Invoker, _ string, args []string) bool {
	if len(args) != 1 {
		return false
	}
	if c.join {
		c.server.Join(args[0])
		c.server.Broadcast(args[0] + " joined the game")
	} else {
		c.server.Quit(args[0])
		c.server.Broadcast(args[0] + " left the game")
	}
	return true
}

func (c *playerCommand) TabComplete(_ context.Context, invoker host.Invoker, _ string, args []string) []string {
	if c.join {
		return nil
	}
	return c.server.Complete(invoker, args)
}
