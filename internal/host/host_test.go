// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package host

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvoker struct {
	mu       sync.Mutex
	messages []string
	perms    map[string]bool
}

func (r *recordingInvoker) Name() string { return "tester" }

func (r *recordingInvoker) SendMessage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingInvoker) HasPermission(p string) bool { return r.perms[p] }

type stubCommand struct {
	name, perm, usage string
	aliases           []string
	result            bool
	calls             []string
	completions       []string
}

func (c *stubCommand) Name() string        { return c.name }
func (c *stubCommand) Aliases() []string   { return c.aliases }
func (c *stubCommand) Description() string { return "" }
func (c *stubCommand) Usage() string       { return c.usage }
func (c *stubCommand) Permission() string  { return c.perm }

func (c *stubCommand) Execute(_ context.Context, _ Invoker, label string, args []string) bool {
	c.calls = append(c.calls, label+" "+strings.Join(args, ","))
	return c.result
}

func (c *stubCommand) TabComplete(context.Context, Invoker, string, []string) []string {
	return c.completions
}

func TestCommandMap_RegisterAndDispatch(t *testing.T) {
	m := NewCommandMap()
	cmd := &stubCommand{name: "Ping", aliases: []string{"p"}, result: true}
	require.NoError(t, m.Register("lualinkscript", cmd))

	assert.Equal(t, []string{"lualinkscript:ping", "p", "ping"}, m.Labels())

	inv := &recordingInvoker{}
	assert.True(t, m.Dispatch(context.Background(), inv, "/ping a b"))
	assert.True(t, m.Dispatch(context.Background(), inv, "P"))
	assert.False(t, m.Dispatch(context.Background(), inv, "missing"))
	assert.False(t, m.Dispatch(context.Background(), inv, "   "))
	assert.Equal(t, []string{"ping a,b", "p "}, cmd.calls)
}

func TestCommandMap_ConflictKeepsFirstOwner(t *testing.T) {
	m := NewCommandMap()
	first := &stubCommand{name: "warp", result: true}
	second := &stubCommand{name: "warp", result: true}
	require.NoError(t, m.Register("a", first))
	require.NoError(t, m.Register("b", second))

	got, ok := m.Lookup("warp")
	require.True(t, ok)
	assert.Same(t, first, got)

	got, ok = m.Lookup("b:warp")
	require.True(t, ok)
	assert.Same(t, second, got)

	m.Unregister(first)
	_, ok = m.Lookup("warp")
	assert.False(t, ok)
	_, ok = m.Lookup("b:warp")
	assert.True(t, ok)
}

func TestCommandMap_RejectsEmptyName(t *testing.T) {
	assert.Error(t, NewCommandMap().Register("x", &stubCommand{name: " "}))
}

func TestCommandMap_PermissionAndUsage(t *testing.T) {
	m := NewCommandMap()
	guarded := &stubCommand{name: "secret", perm: "lualink.secret", result: true}
	failing := &stubCommand{name: "fail", usage: "/fail <x>"}
	require.NoError(t, m.Register("", guarded))
	require.NoError(t, m.Register("", failing))

	inv := &recordingInvoker{}
	assert.True(t, m.Dispatch(context.Background(), inv, "secret"))
	assert.Empty(t, guarded.calls)

	inv.perms = map[string]bool{"lualink.secret": true}
	assert.True(t, m.Dispatch(context.Background(), inv, "secret"))
	assert.Len(t, guarded.calls, 1)

	assert.True(t, m.Dispatch(context.Background(), inv, "fail"))
	assert.Equal(t, []string{noPermissionMessage, "/fail <x>"}, inv.messages)
}

func TestCommandMap_Complete(t *testing.T) {
	m := NewCommandMap()
	require.NoError(t, m.Register("s", &stubCommand{name: "warp", completions: []string{"spawn"}}))
	require.NoError(t, m.Register("s", &stubCommand{name: "weather"}))

	inv := &recordingInvoker{}
	assert.Equal(t, []string{"warp", "weather"}, m.Complete(context.Background(), inv, "w"))
	assert.Equal(t, []string{"spawn"}, m.Complete(context.Background(), inv, "warp "))
	assert.Nil(t, m.Complete(context.Background(), inv, "nope x"))
}

func TestCommandMap_Sync(t *testing.T) {
	m := NewCommandMap()
	m.Sync()
	m.Sync()
	assert.Equal(t, 2, m.Syncs())
}

type countingTask struct {
	runs atomic.Int32
	fn   func()
}

func (c *countingTask) Run(context.Context) {
	c.runs.Add(1)
	if c.fn != nil {
		c.fn()
	}
}

func TestTickScheduler_OneShotAndRepeating(t *testing.T) {
	s := NewTickScheduler(time.Hour, 2)
	ctx := context.Background()

	once := &countingTask{}
	later := &countingTask{}
	repeat := &countingTask{}
	_, err := s.Schedule(once, 0, 0, false)
	require.NoError(t, err)
	_, err = s.Schedule(later, 3, 0, false)
	require.NoError(t, err)
	id, err := s.Schedule(repeat, 1, 2, false)
	require.NoError(t, err)

	s.Step(ctx)
	assert.EqualValues(t, 1, once.runs.Load())
	assert.EqualValues(t, 0, later.runs.Load())
	assert.EqualValues(t, 1, repeat.runs.Load())

	s.Step(ctx)
	s.Step(ctx)
	assert.EqualValues(t, 1, once.runs.Load())
	assert.EqualValues(t, 1, later.runs.Load())
	assert.EqualValues(t, 2, repeat.runs.Load())

	s.Cancel(id)
	s.Step(ctx)
	s.Step(ctx)
	assert.EqualValues(t, 2, repeat.runs.Load())
	assert.Zero(t, s.Pending())
	assert.EqualValues(t, 5, s.CurrentTick())
}

func TestTickScheduler_RunsInScheduleOrder(t *testing.T) {
	s := NewTickScheduler(time.Hour, 1)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := s.Schedule(&countingTask{fn: func() { order = append(order, i) }}, 1, 0, false)
		require.NoError(t, err)
	}
	s.Step(context.Background())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestTickScheduler_AsyncTasksUsePool(t *testing.T) {
	s := NewTickScheduler(time.Hour, 2)
	tasks := make([]*countingTask, 6)
	for i := range tasks {
		tasks[i] = &countingTask{}
		_, err := s.Schedule(tasks[i], 0, 0, true)
		require.NoError(t, err)
	}
	s.Step(context.Background())
	s.Wait()
	for _, task := range tasks {
		assert.EqualValues(t, 1, task.runs.Load())
	}
}

func TestTickScheduler_RecoversPanics(t *testing.T) {
	s := NewTickScheduler(time.Hour, 1)
	after := &countingTask{}
	_, err := s.Schedule(&countingTask{fn: func() { panic("boom") }}, 0, 0, false)
	require.NoError(t, err)
	_, err = s.Schedule(after, 0, 0, false)
	require.NoError(t, err)

	assert.NotPanics(t, func() { s.Step(context.Background()) })
	assert.EqualValues(t, 1, after.runs.Load())
}

func TestTickScheduler_StartStop(t *testing.T) {
	s := NewTickScheduler(time.Millisecond, 1)
	task := &countingTask{}
	_, err := s.Schedule(task, 1, 1, false)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return task.runs.Load() >= 3 }, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	_, err = s.Schedule(task, 0, 0, false)
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestTickScheduler_RejectsBadInput(t *testing.T) {
	s := NewTickScheduler(0, 0)
	_, err := s.Schedule(nil, 0, 0, false)
	assert.Error(t, err)
	_, err = s.Schedule(&countingTask{}, 0, -1, false)
	assert.Error(t, err)
}

func TestConsole_DispatchesLines(t *testing.T) {
	m := NewCommandMap()
	cmd := &stubCommand{name: "hello", result: true}
	require.NoError(t, m.Register("", cmd))

	var out bytes.Buffer
	c := NewConsole(strings.NewReader("hello world\n\nbogus\n"), &out, m)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{"hello world"}, cmd.calls)
	assert.Contains(t, out.String(), "Unknown command")
	assert.Equal(t, "CONSOLE", c.Invoker().Name())
	assert.True(t, c.Invoker().HasPermission("anything"))
}

func TestServer_PlayersAndCompletion(t *testing.T) {
	var out bytes.Buffer
	srv := NewServer("test", "1.0", NewConsoleInvoker(&out))
	srv.Join("Steve")
	srv.Join("Alex")
	srv.Join("Sam")
	srv.Quit("Sam")

	assert.Equal(t, []string{"Alex", "Steve"}, srv.GetOnlinePlayers())
	assert.Equal(t, []string{"Steve"}, srv.Complete(nil, []string{"st"}))
	assert.Equal(t, []string{"Alex", "Steve"}, srv.Complete(nil, nil))

	srv.Broadcast("hi all")
	assert.Equal(t, "hi all\n", out.String())
	assert.Equal(t, "test", srv.GetName())
	assert.Equal(t, "1.0", srv.GetVersion())
}
