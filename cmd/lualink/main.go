// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main runs LuaLink as a standalone host: a console-driven command
// table and tick scheduler with the script bridge attached.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lualink/lualink/internal/admin"
	"github.com/lualink/lualink/internal/buildinfo"
	"github.com/lualink/lualink/internal/config"
	"github.com/lualink/lualink/internal/host"
	"github.com/lualink/lualink/internal/logging"
	"github.com/lualink/lualink/internal/script"
	"github.com/lualink/lualink/internal/session"
	"github.com/lualink/lualink/internal/util"
	"github.com/lualink/lualink/internal/watcher"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

type options struct {
	dataDir    string
	configPath string
	runtime    string
	noConsole  bool
}

// PluginInfo is exposed to scripts as __plugin.
type PluginInfo struct {
	Name       string
	Version    string
	DataFolder string
}

func main() {
	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.dataDir, "data-dir", "", "Data directory (default $"+util.DataDirEnv+" or "+util.DefaultDataDir+")")
	flag.StringVar(&opts.configPath, "config", "", "Configuration file (default <data-dir>/config.yaml)")
	flag.StringVar(&opts.runtime, "runtime", "", "Override the configured Lua runtime")
	flag.BoolVar(&opts.noConsole, "no-console", false, "Do not read commands from stdin")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("lualink " + buildinfo.String())
		return
	}

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if err := run(opts); err != nil {
		log.Fatalf("lualink: %v", err)
	}
}

func run(opts options) error {
	dataDir, err := resolveDataDir(opts.dataDir)
	if err != nil {
		return err
	}
	if err = dataDir.EnsureDir(dataDir.RootPath()); err != nil {
		return err
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = dataDir.ConfigPath()
	}
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return err
	}
	if opts.runtime != "" {
		cfg.Runtime = opts.runtime
	}

	logging.SetDebug(cfg.Debug)
	if err = logging.ConfigureLogOutput(dataDir.LogsDir(), cfg.LoggingToFile, cfg.LogsMaxSizeMB, cfg.LogsMaxBackups); err != nil {
		return err
	}
	defer logging.Close()
	log.Infof("LuaLink %s, data directory %s", buildinfo.String(), dataDir.RootPath())

	storage, err := script.NewDirStorage(cfg.ResolveScriptsDir(dataDir))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := host.NewCommandMap()
	ticks := host.NewTickScheduler(cfg.TickInterval(), cfg.Scheduler.AsyncWorkers)
	console := host.NewConsole(os.Stdin, os.Stdout, table)
	server := host.NewServer("LuaLink", buildinfo.Version, console.Invoker())

	sess, err := session.New(ctx, session.Options{
		Runtime:       cfg.Runtime,
		Engine:        cfg.EngineOptions(),
		Storage:       storage,
		Commands:      table,
		Tasks:         ticks,
		Completer:     server,
		CommandPrefix: cfg.CommandPrefix,
		Server:        server,
		Plugin: &PluginInfo{
			Name:       "LuaLink",
			Version:    buildinfo.Version,
			DataFolder: dataDir.RootPath(),
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if errClose := sess.Close(); errClose != nil {
			log.Warnf("errors while unloading scripts: %v", errClose)
		}
	}()

	if err = registerHostCommands(table, sess, server, stop); err != nil {
		return err
	}

	if err = ticks.Start(ctx); err != nil {
		return err
	}
	defer ticks.Stop()

	if err = sess.Scripts().LoadAll(ctx); err != nil {
		log.Warnf("some scripts failed to load: %v", err)
	}
	table.Sync()

	if cfg.Watch {
		w := watcher.New(storage.Root(), storage, sess.Scripts(), cfg.Debounce())
		if err = w.Start(ctx); err != nil {
			log.Warnf("hot reload disabled: %v", err)
		} else {
			defer w.Stop()
		}
	}

	if !opts.noConsole {
		go func() {
			if errRun := console.Run(ctx); errRun != nil {
				log.Errorf("console stopped: %v", errRun)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func resolveDataDir(flagValue string) (*util.DataDir, error) {
	if flagValue != "" {
		return util.NewDataDirAt(flagValue)
	}
	return util.NewDataDir()
}

func registerHostCommands(table *host.CommandMap, sess *session.Session, server *host.Server, stop context.CancelFunc) error {
	cmds := []host.Command{
		admin.New(sess.Scripts(), sess.Runtime(), sess.Refs().Len),
		&helpCommand{table: table},
		&stopCommand{stop: stop},
		&playerCommand{server: server, join: true},
		&playerCommand{server: server},
	}
	for _, c := range cmds {
		if err := table.Register("lualink", c); err != nil {
			return err
		}
	}
	return nil
}
