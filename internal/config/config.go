// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the LuaLink host.
// It loads and sanitizes config.yaml, creating it with defaults on first
// start, and maps the result onto the engine and scheduler settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lualink/lualink/internal/engine"
	"github.com/lualink/lualink/internal/util"
	"gopkg.in/yaml.v3"
)

// Defaults applied before a file is parsed, so absent keys keep them.
const (
	DefaultRuntime        = engine.GopherLua
	DefaultScriptsDir     = "scripts"
	DefaultTickInterval   = 50 * time.Millisecond
	DefaultAsyncWorkers   = 4
	DefaultLogsMaxSizeMB  = 10
	DefaultLogsMaxBackups = 3
	DefaultWatchDebounce  = 250 * time.Millisecond
)

// Config represents the host configuration, loaded from a YAML file.
type Config struct {
	// Runtime is the preferred engine variant: gopher-lua, luajit or lua54.
	Runtime string `yaml:"runtime" json:"runtime"`

	// Sandbox withholds io, debug and the file-loading globals from scripts.
	Sandbox bool `yaml:"sandbox" json:"sandbox"`

	// ScriptsDir holds one directory per script. Relative paths resolve
	// against the data directory.
	ScriptsDir string `yaml:"scripts-dir" json:"scripts-dir"`

	// Watch enables hot reload of scripts when their sources change.
	Watch bool `yaml:"watch" json:"watch"`

	// WatchDebounce coalesces bursts of file events per script.
	WatchDebounce string `yaml:"watch-debounce" json:"watch-debounce"`

	// CommandPrefix qualifies script command labels ("prefix:name").
	CommandPrefix string `yaml:"command-prefix" json:"command-prefix"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether logs go to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxSizeMB is the size at which the active log file rotates.
	LogsMaxSizeMB int `yaml:"logs-max-size-mb" json:"logs-max-size-mb"`

	// LogsMaxBackups caps the number of rotated log files kept. Zero keeps all.
	LogsMaxBackups int `yaml:"logs-max-backups" json:"logs-max-backups"`

	Engine    EngineConfig    `yaml:"engine" json:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
}

// EngineConfig tunes the interpreter state.
type EngineConfig struct {
	RegistrySize        int  `yaml:"registry-size" json:"registry-size"`
	CallStackSize       int  `yaml:"call-stack-size" json:"call-stack-size"`
	MinimizeStackMemory bool `yaml:"minimize-stack-memory" json:"minimize-stack-memory"`
}

// SchedulerConfig tunes the reference host tick loop.
type SchedulerConfig struct {
	// TickInterval is a Go duration string such as "50ms".
	TickInterval string `yaml:"tick-interval" json:"tick-interval"`
	// AsyncWorkers bounds concurrently running async tasks.
	AsyncWorkers int `yaml:"async-workers" json:"async-workers"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Runtime:        DefaultRuntime,
		ScriptsDir:     DefaultScriptsDir,
		WatchDebounce:  DefaultWatchDebounce.String(),
		LogsMaxSizeMB:  DefaultLogsMaxSizeMB,
		LogsMaxBackups: DefaultLogsMaxBackups,
		Scheduler: SchedulerConfig{
			TickInterval: DefaultTickInterval.String(),
			AsyncWorkers: DefaultAsyncWorkers,
		},
	}
}

// LoadConfig reads configFile. A missing file is an error.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads configFile. When optional is true a missing or
// empty file yields the defaults instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// LoadOrCreate reads configFile, writing the defaults to it first when it
// does not exist yet.
func LoadOrCreate(configFile string) (*Config, error) {
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := util.EnsureDir(filepath.Dir(configFile)); err != nil {
			return nil, err
		}
		if err := SaveConfig(configFile, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}
	return LoadConfig(configFile)
}

// Sanitize normalizes values and replaces invalid ones with defaults.
func (cfg *Config) Sanitize() {
	cfg.Runtime = strings.ToLower(strings.TrimSpace(cfg.Runtime))
	if cfg.Runtime == "" {
		cfg.Runtime = DefaultRuntime
	}
	cfg.ScriptsDir = strings.TrimSpace(cfg.ScriptsDir)
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = DefaultScriptsDir
	}
	cfg.CommandPrefix = strings.ToLower(strings.TrimSpace(cfg.CommandPrefix))
	if cfg.LogsMaxSizeMB <= 0 {
		cfg.LogsMaxSizeMB = DefaultLogsMaxSizeMB
	}
	if cfg.LogsMaxBackups < 0 {
		cfg.LogsMaxBackups = 0
	}
	if cfg.Engine.RegistrySize < 0 {
		cfg.Engine.RegistrySize = 0
	}
	if cfg.Engine.CallStackSize < 0 {
		cfg.Engine.CallStackSize = 0
	}
	if d, err := time.ParseDuration(cfg.Scheduler.TickInterval); err != nil || d <= 0 {
		cfg.Scheduler.TickInterval = DefaultTickInterval.String()
	}
	if cfg.Scheduler.AsyncWorkers <= 0 {
		cfg.Scheduler.AsyncWorkers = DefaultAsyncWorkers
	}
	if d, err := time.ParseDuration(cfg.WatchDebounce); err != nil || d < 0 {
		cfg.WatchDebounce = DefaultWatchDebounce.String()
	}
}

// TickInterval returns the parsed scheduler tick interval.
func (cfg *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(cfg.Scheduler.TickInterval)
	if err != nil || d <= 0 {
		return DefaultTickInterval
	}
	return d
}

// Debounce returns the parsed watcher debounce window.
func (cfg *Config) Debounce() time.Duration {
	d, err := time.ParseDuration(cfg.WatchDebounce)
	if err != nil || d < 0 {
		return DefaultWatchDebounce
	}
	return d
}

// EngineOptions maps the configuration onto interpreter options.
func (cfg *Config) EngineOptions() engine.Options {
	return engine.Options{
		Sandbox:             cfg.Sandbox,
		RegistrySize:        cfg.Engine.RegistrySize,
		CallStackSize:       cfg.Engine.CallStackSize,
		MinimizeStackMemory: cfg.Engine.MinimizeStackMemory,
		IncludeGoStackTrace: cfg.Debug,
	}
}

// ResolveScriptsDir returns ScriptsDir made absolute against dataDir.
func (cfg *Config) ResolveScriptsDir(dataDir *util.DataDir) string {
	return dataDir.ResolvePath(cfg.ScriptsDir)
}
