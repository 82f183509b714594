// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package script

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lualink/lualink/internal/command"
	"github.com/lualink/lualink/internal/host"
	"github.com/lualink/lualink/internal/luabridge"
	"github.com/lualink/lualink/internal/refs"
	"github.com/lualink/lualink/internal/rlock"
	"github.com/lualink/lualink/internal/scheduler"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

type testLocker struct {
	m *rlock.Mutex
	L *lua.LState
}

func (l *testLocker) WithLock(ctx context.Context, fn func(context.Context, *lua.LState) error) error {
	lctx, unlock, err := l.m.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	prev := l.L.Context()
	l.L.SetContext(lctx)
	defer func() {
		if prev != nil {
			l.L.SetContext(prev)
		} else {
			l.L.RemoveContext()
		}
	}()
	return fn(lctx, l.L)
}

type Player struct {
	mu       sync.Mutex
	Messages []string
}

func (p *Player) Name() string { return "Alex" }

func (p *Player) SendMessage(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, msg)
}

func (p *Player) HasPermission(string) bool { return true }

type fixture struct {
	L       *lua.LState
	locker  *testLocker
	refs    *refs.Registry
	table   *host.CommandMap
	ticks   *host.TickScheduler
	storage *DirStorage
	reg     *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)

	storage, err := NewDirStorage(filepath.Join(t.TempDir(), "scripts"))
	require.NoError(t, err)

	f := &fixture{
		L:       L,
		locker:  &testLocker{m: rlock.New(), L: L},
		refs:    refs.New(),
		table:   host.NewCommandMap(),
		ticks:   host.NewTickScheduler(time.Hour, 2),
		storage: storage,
	}
	f.reg = NewRegistry(Options{
		Locker:   f.locker,
		Refs:     f.refs,
		Storage:  storage,
		Commands: &command.Bridge{Locker: f.locker, Refs: f.refs, Table: f.table},
		Tasks:    &scheduler.Bridge{Locker: f.locker, Refs: f.refs, Runner: f.ticks},
	})
	f.reg.Open(L)
	return f
}

func (f *fixture) write(t *testing.T, name, file, code string) {
	t.Helper()
	dir := filepath.Join(f.storage.Root(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(code), 0o644))
}

func (f *fixture) global(t *testing.T, s *Script, name string) lua.LValue {
	t.Helper()
	var v lua.LValue
	require.NoError(t, f.locker.WithLock(context.Background(), func(_ context.Context, L *lua.LState) error {
		v = L.GetField(s.Env(), name)
		return nil
	}))
	return v
}

const pingScript = `
greeting = "pong"
__registerCommand(function(sender, args) sender:SendMessage(greeting) end, { name = "ping", aliases = { "p" } })
`

func TestRegistry_LoadRegistersCommandInIsolatedEnv(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.reg.Load(ctx, "ping", pingScript)
	require.NoError(t, err)
	assert.Equal(t, []string{"ping"}, s.Commands())
	assert.False(t, s.LoadedAt().IsZero())
	assert.Equal(t, 1, f.table.Syncs())

	player := &Player{}
	assert.True(t, f.table.Dispatch(ctx, player, "ping"))
	assert.True(t, f.table.Dispatch(ctx, player, "p"))
	assert.Equal(t, []string{"pong", "pong"}, player.Messages)

	assert.Equal(t, lua.LNil, f.L.GetGlobal("greeting"), "script globals stay in the script env")
	assert.Equal(t, lua.LString("pong"), f.global(t, s, "greeting"))
	assert.Equal(t, lua.LString("ping"), f.L.GetField(f.global(t, s, "script"), "name"))

	for _, h := range f.refs.OwnedBy("ping") {
		owner, _ := f.refs.Owner(h)
		assert.Equal(t, refs.KindCommand, owner.Kind)
	}
}

func TestRegistry_UnloadLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.reg.Load(ctx, "busy", `
		__registerCommand(function() end, { name = "busy", tabComplete = function() return {} end })
		local t = __createTask(function() end)
		__scheduleTask(t, 20, 20, false)
		keep = __ref({ some = "state" })
		script._onUnload = function() _G.unloadHookRan = true end
	`)
	require.NoError(t, err)
	assert.NotEmpty(t, f.refs.OwnedBy("busy"))
	assert.Equal(t, 1, s.ActiveTasks())
	assert.Equal(t, 1, f.ticks.Pending())

	require.NoError(t, f.reg.Unload(ctx, "busy"))

	assert.Empty(t, f.refs.OwnedBy("busy"))
	assert.Zero(t, f.refs.Len())
	assert.Zero(t, f.ticks.Pending())
	assert.Zero(t, s.ActiveTasks())
	assert.Empty(t, f.table.Labels())
	assert.Equal(t, lua.LTrue, f.L.GetGlobal("unloadHookRan"))
	_, ok := f.reg.Get("busy")
	assert.False(t, ok)
	assert.Empty(t, f.reg.Loaded())
}

func TestRegistry_CounterTaskFiresOnceAndReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.reg.Load(ctx, "counter", `
		counter = 0
		local task = __createTask(function() counter = counter + 1 end, true)
		__scheduleTask(task, 0, 0, false)
	`)
	require.NoError(t, err)
	assert.Len(t, f.refs.OwnedBy("counter"), 1)

	f.ticks.Step(ctx)
	f.ticks.Step(ctx)

	assert.Equal(t, lua.LNumber(1), f.global(t, s, "counter"))
	assert.Empty(t, f.refs.OwnedBy("counter"))
	assert.Zero(t, s.ActiveTasks())

	require.NoError(t, f.reg.Unload(ctx, "counter"))
	assert.Zero(t, f.refs.Len())
}

func TestRegistry_DuplicateNameIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Load(ctx, "ping", pingScript)
	require.NoError(t, err)

	_, err = f.reg.Load(ctx, "ping", pingScript)
	assert.ErrorIs(t, err, luabridge.ErrAlreadyLoaded)
	var loadErr *luabridge.ScriptLoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Len(t, f.reg.Loaded(), 1)
	assert.Len(t, f.refs.OwnedBy("ping"), 1)
}

func TestRegistry_FailedLoadRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Load(ctx, "broken", `
		__registerCommand(function() end, { name = "half" })
		local t = __createTask(function() end, false)
		__scheduleTask(t, 5, 0, false)
		__ref("leak")
		error("failed halfway")
	`)
	var loadErr *luabridge.ScriptLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "broken", loadErr.Name)
	assert.Contains(t, err.Error(), "failed halfway")

	assert.Zero(t, f.refs.Len())
	assert.Empty(t, f.table.Labels())
	assert.Zero(t, f.ticks.Pending())
	_, ok := f.reg.Get("broken")
	assert.False(t, ok)

	_, err = f.reg.Load(ctx, "broken", `ok = true`)
	assert.NoError(t, err, "the name is free again after rollback")
}

func TestRegistry_SyntaxErrorAndOnLoadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Load(ctx, "syntax", `this is not lua`)
	assert.Error(t, err)

	_, err = f.reg.Load(ctx, "hooked", `
		__registerCommand(function() end, { name = "hooked" })
		script._onLoad = function() error("onLoad refused") end
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "onLoad refused")
	assert.Zero(t, f.refs.Len())
	assert.Empty(t, f.table.Labels())

	_, err = f.reg.Load(ctx, "Bad Name", `x = 1`)
	assert.Error(t, err)
}

func TestRegistry_InvalidCommandOnlyFailsThatCommand(t *testing.T) {
	f := newFixture(t)
	s, err := f.reg.Load(context.Background(), "mixed", `
		bad, why = __registerCommand("not a function", { name = "bad" })
		good = __registerCommand(function() end, { name = "good" })
	`)
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, f.global(t, s, "bad"))
	assert.Contains(t, f.global(t, s, "why").String(), "handler must be a function")
	assert.Equal(t, lua.LString("good"), f.global(t, s, "good"))
	assert.Equal(t, []string{"good"}, s.Commands())
}

func TestRegistry_OwnershipIsPerScript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Load(ctx, "a", `__ref("a1"); __ref("a2")`)
	require.NoError(t, err)
	_, err = f.reg.Load(ctx, "b", `__ref("b1")`)
	require.NoError(t, err)

	assert.Len(t, f.refs.OwnedBy("a"), 2)
	assert.Len(t, f.refs.OwnedBy("b"), 1)

	require.NoError(t, f.reg.Unload(ctx, "a"))
	assert.Len(t, f.refs.OwnedBy("b"), 1)
	assert.Equal(t, 1, f.refs.Len())
}

func TestRegistry_RefBridgeFunctions(t *testing.T) {
	f := newFixture(t)
	s, err := f.reg.Load(context.Background(), "refs", `
		local h = __ref({ value = 42 })
		resolved = __resolve(h).value
		released = __unref(h)
		again, againErr = __unref(h)
		stale, staleErr = __resolve(h)
		cmd = __registerCommand(function() end, { name = "owned" })
		local task, taskHandle = __createTask(function() end)
		taskUnref, taskUnrefErr = __unref(taskHandle)
	`)
	require.NoError(t, err)

	assert.Equal(t, lua.LNumber(42), f.global(t, s, "resolved"))
	assert.Equal(t, lua.LTrue, f.global(t, s, "released"))
	assert.Equal(t, lua.LNil, f.global(t, s, "again"))
	assert.Contains(t, f.global(t, s, "againErr").String(), "released twice")
	assert.Equal(t, lua.LNil, f.global(t, s, "stale"))
	assert.Contains(t, f.global(t, s, "staleErr").String(), "stale reference")
	assert.Equal(t, lua.LNil, f.global(t, s, "taskUnref"))
	assert.Contains(t, f.global(t, s, "taskUnrefErr").String(), "refs/task")
}

func TestRegistry_LoadAllPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.write(t, "good", "main.lua", pingScript)
	f.write(t, "bad", "main.lua", `error("nope")`)
	f.write(t, "teal", "main.tl", `local x: number = 1`)
	f.write(t, "Bad_Name", "main.lua", `x = 1`)

	hook := test.NewGlobal()
	defer hook.Reset()

	err := f.reg.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "loaded 1 of 2 scripts", hook.LastEntry().Message)

	loaded := f.reg.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].Name())
	assert.Equal(t, f.storage.EntryPath("good"), loaded[0].Path())

	available, err := f.reg.Available()
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, available)

	require.NoError(t, os.RemoveAll(filepath.Join(f.storage.Root(), "bad")))
	require.NoError(t, f.reg.LoadAll(context.Background()), "loaded scripts are skipped")
	assert.Len(t, f.reg.Loaded(), 1)
	assert.Equal(t, "loaded 0 of 0 scripts", hook.LastEntry().Message)
}

func TestRegistry_Reload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "hello", "main.lua", `__registerCommand(function(s) s:SendMessage("v1") end, { name = "hello" })`)

	_, err := f.reg.LoadFromStorage(ctx, "hello")
	require.NoError(t, err)

	f.write(t, "hello", "main.lua", `__registerCommand(function(s) s:SendMessage("v2") end, { name = "hello" })`)
	s, err := f.reg.Reload(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, s.Commands())

	player := &Player{}
	f.table.Dispatch(ctx, player, "hello")
	assert.Equal(t, []string{"v2"}, player.Messages)
	assert.Len(t, f.refs.OwnedBy("hello"), 1)

	_, err = f.reg.Reload(ctx, "missing")
	assert.Error(t, err)
}

func TestRegistry_UnloadAllInLoadOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"one", "two", "three"} {
		_, err := f.reg.Load(ctx, name, `script._onUnload = function() _G.order = (_G.order or "") .. script.name .. ";" end`)
		require.NoError(t, err)
	}
	names := []string{}
	for _, s := range f.reg.Loaded() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"one", "two", "three"}, names)

	require.NoError(t, f.reg.UnloadAll(ctx))
	assert.Equal(t, lua.LString("one;two;three;"), f.L.GetGlobal("order"))
	assert.Zero(t, f.refs.Len())

	assert.ErrorIs(t, f.reg.Unload(ctx, "one"), luabridge.ErrNotLoaded)
}

func TestRegistry_TaskOutsideScriptIsRejected(t *testing.T) {
	f := newFixture(t)
	err := f.L.DoString(`__createTask(function() end)`)
	assert.Error(t, err)

	require.NoError(t, f.L.DoString(`name, err = __registerCommand(function() end, { name = "orphan" })`))
	assert.Equal(t, lua.LNil, f.L.GetGlobal("name"))
	assert.Empty(t, f.table.Labels())
}

func TestDirStorage(t *testing.T) {
	f := newFixture(t)
	f.write(t, "alpha", "main.lua", `x = 1`)
	f.write(t, "beta", "other.lua", `x = 1`)

	names, err := f.storage.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)
	assert.True(t, f.storage.Exists("alpha"))
	assert.False(t, f.storage.Exists("beta"))
	assert.False(t, f.storage.Exists("../alpha"))

	src, err := f.storage.Read("alpha")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", src.Code)

	_, err = f.storage.Read("beta")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.storage.Read("../etc")
	assert.Error(t, err)
}
