// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hook0/dispatcher/internal/archive"
	"github.com/hook0/dispatcher/internal/breaker"
	"github.com/hook0/dispatcher/internal/config"
	"github.com/hook0/dispatcher/internal/dispatcher"
	"github.com/hook0/dispatcher/internal/model"
	"github.com/hook0/dispatcher/internal/notify"
	"github.com/hook0/dispatcher/internal/obs"
	"github.com/hook0/dispatcher/internal/reaper"
	"github.com/hook0/dispatcher/internal/store"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	var configPath, scope, workerID string
	var concurrent int
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&scope, "scope", "", "Override dispatcher.scope (public|private)")
	fs.StringVar(&workerID, "worker-id", "", "Override dispatcher.worker_id")
	fs.IntVar(&concurrent, "concurrent", 0, "Override dispatcher.concurrent")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if scope != "" {
		cfg.Dispatcher.Scope = scope
	}
	if workerID != "" {
		cfg.Dispatcher.WorkerID = workerID
	}
	if concurrent > 0 {
		cfg.Dispatcher.Concurrent = concurrent
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	st, err := store.New(cfg.Dispatcher.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to store", obs.Err(err))
	}
	defer st.Close()

	var wakeNotifier *store.Notifier
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		wakeNotifier = store.NewNotifier(rdb)
	}

	opsNotifier, err := notify.New(cfg.Notify, logger)
	if err != nil {
		logger.Warn("notify init failed, continuing without ops fan-out", obs.Err(err))
	}
	defer opsNotifier.Close()

	breakers := breaker.NewRegistry(
		cfg.CircuitBreaker.Window,
		cfg.CircuitBreaker.CooldownPeriod,
		cfg.CircuitBreaker.FailureThreshold,
		cfg.CircuitBreaker.MinSamples,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyCheck := func(c context.Context) error { return st.Ping(c) }
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	obs.StartBacklogSampler(ctx, st, 2*time.Second, logger)

	rep := reaper.New(st, logger, 5*time.Second, cfg.Dispatcher.OrphanReclaimHorizon)
	go rep.Run(ctx)

	archiveExporter, err := archive.New(cfg.Archive, logger)
	if err != nil {
		logger.Warn("archive exporter init failed, continuing without cold-path export", obs.Err(err))
	}
	if archiveExporter != nil {
		defer archiveExporter.Close()
		archiveRunner := archive.NewRunner(st, archiveExporter, cfg.Archive, logger)
		go archiveRunner.Run(ctx)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(cfg.Dispatcher.Timeout + 5*time.Second):
		}
	}()

	d := dispatcher.New(dispatcher.Config{
		WorkerID:             cfg.Dispatcher.WorkerID,
		Scope:                model.Scope(cfg.Dispatcher.Scope),
		Concurrency:          cfg.Dispatcher.Concurrent,
		ConnectTimeout:       cfg.Dispatcher.ConnectTimeout,
		Timeout:              cfg.Dispatcher.Timeout,
		AutoDisableThreshold: cfg.Dispatcher.AutoDisableThreshold,
	}, st, wakeNotifier, opsNotifier, breakers, logger)

	if err := d.Run(ctx); err != nil {
		logger.Fatal("dispatcher error", obs.Err(err))
	}
}
