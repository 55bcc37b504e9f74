// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the jsonl, supervisor, registry, fanout, history,
// permission, and api packages into a single runnable control plane and
// drives its graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kaidlee/assistantctl/internal/api"
	"github.com/kaidlee/assistantctl/internal/config"
	"github.com/kaidlee/assistantctl/internal/fanout"
	"github.com/kaidlee/assistantctl/internal/history"
	"github.com/kaidlee/assistantctl/internal/permission"
	"github.com/kaidlee/assistantctl/internal/registry"
	"github.com/kaidlee/assistantctl/internal/supervisor"
)

// App is the main application container.
type App struct {
	mu sync.Mutex

	configPath string
	version    string
	cfg        *config.Config

	supervisor *supervisor.Supervisor
	registry   *registry.Registry
	fanOut     *fanout.FanOut
	history    *history.Index
	watcher    *history.Watcher
	permission *permission.Broker
	apiServer  *api.Server

	logFile *lumberjack.Logger

	consumerStop chan struct{}
	consumerDone chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New loads configuration and constructs an App. Call Run to start it.
func New(opts Options) (*App, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	return &App{
		configPath:   opts.ConfigPath,
		version:      opts.Version,
		cfg:          cfg,
		done:         make(chan struct{}),
		consumerStop: make(chan struct{}),
		consumerDone: make(chan struct{}),
	}, nil
}

// permissionBridge forwards Permission Broker activity onto the Stream
// Fan-out as SSE events, per spec.md §6's SSE event schema.
type permissionBridge struct {
	fan *fanout.FanOut
}

func (b *permissionBridge) PermissionRequested(req permission.Request) {
	b.fan.Broadcast(req.StreamID, fanout.Event{
		Type:        "permission_request",
		StreamingID: req.StreamID,
		Timestamp:   time.Now(),
		Data:        req,
	})
}

func (b *permissionBridge) PermissionUpdated(req permission.Request) {
	b.fan.Broadcast(req.StreamID, fanout.Event{
		Type:        "permission_updated",
		StreamingID: req.StreamID,
		Timestamp:   time.Now(),
		Data:        req,
	})
}

// Initialize constructs every component in dependency order: jsonl (used
// internally by supervisor/history) → supervisor → registry → fanout →
// history → permission → api.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.cfg

	app.configureLogging(cfg)

	supCfg := supervisor.DefaultConfig(cfg.Supervisor.Command)
	supCfg.PermissionPromptTool = cfg.Supervisor.PermissionPromptTool
	supCfg.MCPConfigPath = cfg.Supervisor.MCPConfigPath
	if d := config.ParseDuration(cfg.Supervisor.StopGrace, 0); d > 0 {
		supCfg.StopGrace = d
	}
	if d := config.ParseDuration(cfg.Supervisor.StopHardDeadline, 0); d > 0 {
		supCfg.StopHardDeadline = d
	}
	if cfg.Crashes.ReportsDir != "" {
		supCfg.CrashDir = cfg.Crashes.ReportsDir
		supCfg.CrashMaxAge = config.ParseDuration(cfg.Crashes.MaxAge, 7*24*time.Hour)
		supCfg.CrashMaxCount = cfg.Crashes.MaxCount
	}
	app.supervisor = supervisor.New(supCfg)

	if hb := config.ParseDuration(cfg.Supervisor.HeartbeatInterval, 0); hb > 0 {
		fanout.HeartbeatInterval = hb
	}

	app.registry = registry.New()
	app.fanOut = fanout.New()
	app.history = history.NewIndex(cfg.History.Root, app.registry)
	app.permission = permission.New()
	app.permission.AddListener(&permissionBridge{fan: app.fanOut})

	if cfg.History.Watch {
		app.watcher = history.WatchIndex(app.history)
	}

	app.apiServer = api.NewServer(
		api.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			TLSCert:      cfg.Server.TLSCert,
			TLSKey:       cfg.Server.TLSKey,
			TLSTailscale: cfg.Server.TLSTailscale,
		},
		api.Dependencies{
			Supervisor: app.supervisor,
			Registry:   app.registry,
			FanOut:     app.fanOut,
			History:    app.history,
			Permission: app.permission,
		},
	)

	go app.consumeSupervisorEvents()

	return nil
}

// configureLogging rotates the server's own log output through lumberjack
// when a log file path is configured; otherwise log.Printf keeps writing to
// stderr, matching the teacher's plain logging when unconfigured.
func (app *App) configureLogging(cfg *config.Config) {
	if cfg.Logging.File == "" {
		return
	}
	app.logFile = &lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
	}
	log.SetOutput(app.logFile)
}

// consumeSupervisorEvents is the single subscriber draining the
// Supervisor's typed channels, fanning each record out to subscribers and
// keeping the Registry and Permission Broker in sync with stream lifecycle.
// The init record never appears on Messages (the supervisor consumes it
// synchronously during spawn), so no special-casing is needed here.
func (app *App) consumeSupervisorEvents() {
	defer close(app.consumerDone)

	messages := app.supervisor.Messages()
	closedCh := app.supervisor.Closed()
	errorsCh := app.supervisor.Errors()

	for messages != nil || closedCh != nil || errorsCh != nil {
		select {
		case <-app.consumerStop:
			return

		case evt, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			app.fanOut.Broadcast(evt.StreamID, fanout.Event{Record: evt.Record})

		case evt, ok := <-errorsCh:
			if !ok {
				errorsCh = nil
				continue
			}
			app.fanOut.Broadcast(evt.StreamID, fanout.Event{
				Type:        "error",
				StreamingID: evt.StreamID,
				Timestamp:   time.Now(),
				Error:       evt.Reason,
			})

		case evt, ok := <-closedCh:
			if !ok {
				closedCh = nil
				continue
			}
			app.fanOut.CloseStream(evt.StreamID)
			app.registry.Unbind(evt.StreamID)
			app.permission.RemoveByStreamID(evt.StreamID)
		}
	}
}

// Start starts the API server. Initialize must be called first.
func (app *App) Start(ctx context.Context) error {
	go func() {
		log.Printf("API server starting on %s:%d", app.cfg.Server.Host, app.cfg.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()
	return nil
}

// Run initializes, starts, and blocks until a shutdown signal or
// cancellation, then shuts down gracefully. Returns nil on clean shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down", sig)
	case <-ctx.Done():
		log.Printf("context cancelled, shutting down")
	case <-app.done:
		log.Printf("shutdown requested")
	}

	return app.Shutdown(context.Background())
}

// Shutdown performs the graceful sequence: it first shuts down the API
// server (closing the listener, so no new subscribers are accepted, and
// waiting up to the 30s timeout for open requests, SSE streams included),
// then calls stopConversation on every active stream with bounded
// concurrency, disconnects all subscribers, and removes any temp files this
// run created.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("error shutting down API server: %v", err)
		}
	}

	if app.supervisor != nil {
		g, _ := errgroup.WithContext(shutdownCtx)
		g.SetLimit(16)
		for _, streamID := range app.supervisor.ActiveStreamIDs() {
			streamID := streamID
			g.Go(func() error {
				app.supervisor.StopConversation(streamID)
				return nil
			})
		}
		_ = g.Wait()
	}

	if app.fanOut != nil {
		app.fanOut.DisconnectAll()
	}

	if app.watcher != nil {
		_ = app.watcher.Close()
	}

	close(app.consumerStop)
	<-app.consumerDone

	if app.cfg != nil && app.cfg.Supervisor.MCPConfigPath != "" {
		if err := os.Remove(app.cfg.Supervisor.MCPConfigPath); err != nil && !os.IsNotExist(err) {
			log.Printf("error removing generated MCP config %s: %v", app.cfg.Supervisor.MCPConfigPath, err)
		}
	}

	if app.logFile != nil {
		_ = app.logFile.Close()
	}

	log.Println("shutdown complete")
	return nil
}

// Stop signals Run to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
