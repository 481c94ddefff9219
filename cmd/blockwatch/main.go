// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// blockwatch ingests EVM block headers across configured chains into a
// Postgres-backed store and serves them over a small read API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/luxfi/blockwatch/internal/api"
	"github.com/luxfi/blockwatch/internal/config"
	"github.com/luxfi/blockwatch/internal/health"
	blog "github.com/luxfi/blockwatch/internal/log"
	"github.com/luxfi/blockwatch/internal/metrics"
	"github.com/luxfi/blockwatch/internal/rpcgateway"
	"github.com/luxfi/blockwatch/internal/scheduler"
	"github.com/luxfi/blockwatch/internal/store"
)

const clientIdentifier = "blockwatch"

// version and commit are overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

var app = &cli.App{
	Name:  clientIdentifier,
	Usage: "EVM block header ingestion and read API",
}

func init() {
	app.Action = runServe
	app.Commands = []*cli.Command{
		serveCommand,
		migrateCommand,
		versionCommand,
	}
}

// configureLogging builds the default logger from cfg, matching the
// teacher's app.Before pattern of installing a configured logger
// before any business logic runs (here done per-command instead of in
// a single app.Before, since the level comes from parsed config rather
// than a fixed flag).
func configureLogging(cfg config.Config) {
	level, err := blog.LevelFromString(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	blog.SetDefault(blog.New(blog.Options{
		Level: level,
		Color: isatty.IsTerminal(os.Stderr.Fd()),
		File:  cfg.LogFile,
	}))
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print build version and exit",
	Action: func(ctx *cli.Context) error {
		fmt.Printf("%s %s (%s)\n", clientIdentifier, version, commit)
		return nil
	},
}

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "apply the block store schema and exit",
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		configureLogging(cfg)
		background := context.Background()
		pool, err := store.Connect(background, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := store.Migrate(background, pool); err != nil {
			return err
		}
		blog.Info("migrate: schema applied")
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "run ingestion and the read API",
	Action: runServe,
}

func loadConfig() (config.Config, error) {
	fs := config.BuildFlagSet()
	v, err := config.BuildViper(fs, os.Args[1:])
	if err != nil {
		return config.Config{}, err
	}
	return config.BuildConfig(v)
}

func runServe(ctx *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("blockwatch: invalid configuration: %w", err)
	}
	configureLogging(cfg)

	background := context.Background()
	pool, err := store.Connect(background, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("blockwatch: database unreachable at startup: %w", err)
	}
	defer pool.Close()

	if err := store.Migrate(background, pool); err != nil {
		return fmt.Errorf("blockwatch: schema migration failed: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st := store.New(pool, store.WithObserver(m))

	gw := rpcgateway.New(cfg.ChainIDs(), func(chainID uint32) (string, bool) {
		return config.ChainURL(cfg, chainID)
	})

	schedCfg := scheduler.DefaultConfig()
	schedCfg.HeadTickPeriod = cfg.HeadTickPeriod
	schedCfg.GapScanPeriod = cfg.GapScanPeriod
	schedCfg.GapLimit = cfg.GapLimit
	schedCfg.RPCTimeout = cfg.RPCTimeout
	sched := scheduler.New(gw, st, schedCfg, scheduler.WithObserver(m))

	hc := health.New(st)
	apiServer := api.New(st, hc, m, reg)

	runCtx, cancel := context.WithCancel(background)
	sched.Start(runCtx)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				ps := st.PoolStats()
				m.ObservePoolStats(ps.Active, ps.Idle)
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: apiServer,
	}

	serveErrs := make(chan error, 1)
	go func() {
		blog.Info("serve: listening", "addr", cfg.ListenAddr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		blog.Info("serve: shutting down", "signal", sig.String())
	case err := <-serveErrs:
		blog.Error("serve: http server failed", "err", err)
	}

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		blog.Warn("serve: http shutdown did not complete cleanly", "err", err)
	}

	return nil
}
