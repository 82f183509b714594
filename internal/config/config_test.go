// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lualink/lualink/internal/engine"
	"github.com/lualink/lualink/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, engine.GopherLua, cfg.Runtime)
	assert.Equal(t, DefaultScriptsDir, cfg.ScriptsDir)
	assert.Equal(t, DefaultTickInterval, cfg.TickInterval())
	assert.Equal(t, DefaultAsyncWorkers, cfg.Scheduler.AsyncWorkers)
	assert.False(t, cfg.Sandbox)
	assert.False(t, cfg.Watch)
}

func TestLoadConfig_ExplicitValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
runtime: LuaJIT
sandbox: true
watch: true
watch-debounce: 1s
command-prefix: Scripts
engine:
  registry-size: 4096
  minimize-stack-memory: true
scheduler:
  tick-interval: 10ms
  async-workers: 8
`))
	require.NoError(t, err)

	assert.Equal(t, engine.LuaJIT, cfg.Runtime)
	assert.True(t, cfg.Sandbox)
	assert.True(t, cfg.Watch)
	assert.Equal(t, time.Second, cfg.Debounce())
	assert.Equal(t, "scripts", cfg.CommandPrefix)
	assert.Equal(t, 10*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, 8, cfg.Scheduler.AsyncWorkers)

	opts := cfg.EngineOptions()
	assert.True(t, opts.Sandbox)
	assert.Equal(t, 4096, opts.RegistrySize)
	assert.True(t, opts.MinimizeStackMemory)
}

func TestLoadConfig_SanitizesInvalidValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
runtime: "  "
scripts-dir: ""
logs-max-size-mb: -1
logs-max-backups: -5
engine:
  call-stack-size: -3
scheduler:
  tick-interval: soon
  async-workers: 0
watch-debounce: later
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultRuntime, cfg.Runtime)
	assert.Equal(t, DefaultScriptsDir, cfg.ScriptsDir)
	assert.Equal(t, DefaultLogsMaxSizeMB, cfg.LogsMaxSizeMB)
	assert.Zero(t, cfg.LogsMaxBackups)
	assert.Zero(t, cfg.Engine.CallStackSize)
	assert.Equal(t, DefaultTickInterval.String(), cfg.Scheduler.TickInterval)
	assert.Equal(t, DefaultAsyncWorkers, cfg.Scheduler.AsyncWorkers)
	assert.Equal(t, DefaultWatchDebounce, cfg.Debounce())
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "runtime: [unterminated"))
	assert.Error(t, err)
}

func TestLoadConfigOptional_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := LoadConfig(missing)
	assert.Error(t, err)

	cfg, err := LoadConfigOptional(missing, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOrCreate_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "runtime: gopher-lua")
	assert.Contains(t, string(data), "tick-interval: 50ms")
}

func TestSaveConfig_PreservesComments(t *testing.T) {
	path := writeConfig(t, "# pick an engine\nruntime: gopher-lua # inline\ncustom-key: kept\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.Runtime = engine.Lua54
	cfg.Watch = true
	require.NoError(t, SaveConfig(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "# pick an engine")
	assert.Contains(t, out, "# inline")
	assert.Contains(t, out, "custom-key: kept")
	assert.Contains(t, out, "runtime: lua54")

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, engine.Lua54, again.Runtime)
	assert.True(t, again.Watch)
}

func TestResolveScriptsDir(t *testing.T) {
	root := t.TempDir()
	dd, err := util.NewDataDirAt(root)
	require.NoError(t, err)

	cfg := Default()
	assert.Equal(t, filepath.Join(dd.RootPath(), "scripts"), cfg.ResolveScriptsDir(dd))

	abs := filepath.Join(root, "elsewhere")
	cfg.ScriptsDir = abs
	assert.Equal(t, abs, cfg.ResolveScriptsDir(dd))
}
