// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package admin implements the /lualink management command.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lualink/lualink/internal/buildinfo"
	"github.com/lualink/lualink/internal/host"
	"github.com/lualink/lualink/internal/luabridge"
	"github.com/lualink/lualink/internal/script"
	log "github.com/sirupsen/logrus"
)

// Name is the command label; Permission guards every subcommand.
const (
	Name       = "lualink"
	Permission = "lualink.admin"
)

var subcommands = []string{"info", "list", "load", "reload", "unload"}

// Scripts is the script registry surface the command manages.
type Scripts interface {
	Loaded() []*script.Script
	Get(name string) (*script.Script, bool)
	Available() ([]string, error)
	LoadFromStorage(ctx context.Context, name string) (*script.Script, error)
	Unload(ctx context.Context, name string) error
	Reload(ctx context.Context, name string) (*script.Script, error)
}

// Command is the host command behind /lualink.
type Command struct {
	scripts Scripts
	runtime string
	handles func() int
	now     func() time.Time
}

// New returns the admin command. handles reports the number of live
// references for "info" and may be nil.
func New(scripts Scripts, runtime string, handles func() int) *Command {
	return &Command{scripts: scripts, runtime: runtime, handles: handles, now: time.Now}
}

func (c *Command) Name() string        { return Name }
func (c *Command) Aliases() []string   { return []string{"ll"} }
func (c *Command) Description() string { return "Manage LuaLink scripts" }
func (c *Command) Permission() string  { return Permission }

func (c *Command) Usage() string {
	return "/lualink <" + strings.Join(subcommands, "|") + "> [script]"
}

// Execute runs a subcommand. It reports false on malformed input so the
// host prints usage.
func (c *Command) Execute(ctx context.Context, invoker host.Invoker, _ string, args []string) bool {
	if len(args) == 0 {
		return false
	}
	sub := strings.ToLower(args[0])
	switch sub {
	case "list":
		c.list(invoker)
		return true
	case "info":
		c.info(invoker)
		return true
	case "load", "unload", "reload":
		if len(args) != 2 {
			return false
		}
	default:
		return false
	}

	name := args[1]
	switch sub {
	case "load":
		c.load(ctx, invoker, name)
	case "unload":
		c.unload(ctx, invoker, name)
	case "reload":
		c.reload(ctx, invoker, name)
	}
	return true
}

func (c *Command) list(invoker host.Invoker) {
	loaded := c.scripts.Loaded()
	if len(loaded) == 0 {
		invoker.SendMessage("No scripts are loaded.")
		return
	}
	invoker.SendMessage(fmt.Sprintf("Loaded scripts (%d):", len(loaded)))
	now := c.now()
	for _, s := range loaded {
		invoker.SendMessage(fmt.Sprintf("- %s (loaded %s, %s, %s)",
			s.Name(),
			humanize.RelTime(s.LoadedAt(), now, "ago", "from now"),
			plural(len(s.Commands()), "command"),
			plural(s.ActiveTasks(), "task"),
		))
	}
}

func (c *Command) info(invoker host.Invoker) {
	available, err := c.scripts.Available()
	if err != nil {
		log.Warnf("failed to list available scripts: %v", err)
	}
	invoker.SendMessage(fmt.Sprintf("LuaLink %s on %s", buildinfo.Version, c.runtime))
	invoker.SendMessage(fmt.Sprintf("Scripts: %d loaded, %d available", len(c.scripts.Loaded()), len(available)))
	if c.handles != nil {
		invoker.SendMessage(fmt.Sprintf("Live references: %s", humanize.Comma(int64(c.handles()))))
	}
}

func (c *Command) load(ctx context.Context, invoker host.Invoker, name string) {
	if _, ok := c.scripts.Get(name); ok {
		invoker.SendMessage(fmt.Sprintf("Script %s is already loaded.", name))
		return
	}
	if _, err := c.scripts.LoadFromStorage(ctx, name); err != nil {
		if errors.Is(err, script.ErrNotFound) {
			invoker.SendMessage(fmt.Sprintf("Script %s not found.", name))
			return
		}
		invoker.SendMessage(fmt.Sprintf("Failed to load script %s: %v", name, err))
		return
	}
	log.WithField("script", name).Infof("loaded by %s", invoker.Name())
	invoker.SendMessage(fmt.Sprintf("Loaded script %s.", name))
}

func (c *Command) unload(ctx context.Context, invoker host.Invoker, name string) {
	if err := c.scripts.Unload(ctx, name); err != nil {
		if errors.Is(err, luabridge.ErrNotLoaded) {
			invoker.SendMessage(fmt.Sprintf("Script %s is not loaded.", name))
			return
		}
		invoker.SendMessage(fmt.Sprintf("Failed to unload script %s: %v", name, err))
		return
	}
	log.WithField("script", name).Infof("unloaded by %s", invoker.Name())
	invoker.SendMessage(fmt.Sprintf("Unloaded script %s.", name))
}

func (c *Command) reload(ctx context.Context, invoker host.Invoker, name string) {
	if _, ok := c.scripts.Get(name); !ok {
		invoker.SendMessage(fmt.Sprintf("Script %s is not loaded.", name))
		return
	}
	if _, err := c.scripts.Reload(ctx, name); err != nil {
		invoker.SendMessage(fmt.Sprintf("Failed to reload script %s: %v", name, err))
		return
	}
	log.WithField("script", name).Infof("reloaded by %s", invoker.Name())
	invoker.SendMessage(fmt.Sprintf("Reloaded script %s.", name))
}

// TabComplete offers subcommands, then available scripts for load and
// loaded scripts for unload and reload.
func (c *Command) TabComplete(_ context.Context, _ host.Invoker, _ string, args []string) []string {
	switch len(args) {
	case 1:
		return withPrefix(subcommands, args[0])
	case 2:
		var candidates []string
		switch strings.ToLower(args[0]) {
		case "load":
			available, err := c.scripts.Available()
			if err != nil {
				return nil
			}
			candidates = available
		case "unload", "reload":
			for _, s := range c.scripts.Loaded() {
				candidates = append(candidates, s.Name())
			}
		}
		return withPrefix(candidates, args[1])
	}
	return nil
}

func withPrefix(candidates []string, prefix string) []string {
	prefix = strings.ToLower(prefix)
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), prefix) {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}
