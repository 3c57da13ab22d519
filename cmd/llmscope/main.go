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

	"github.com/llmscope/llmscope/internal/broker"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/httpapi"
	"github.com/llmscope/llmscope/internal/livebus"
	"github.com/llmscope/llmscope/internal/obs"
	"github.com/llmscope/llmscope/internal/reaper"
	"github.com/llmscope/llmscope/internal/redisclient"
	"github.com/llmscope/llmscope/internal/store"
	"github.com/llmscope/llmscope/internal/worker"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: ingest|worker|all")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
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
		defer func() { _ = obs.TracerShutdown(context.Background(), tp) }()
	}

	rdb := redisclient.New(cfg)
	defer rdb.Close()

	br := broker.New(rdb, cfg.Broker)

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open event store", obs.Err(err))
	}
	defer st.Close()

	audit := httpapi.NewAuditLogger(cfg.Audit)
	defer audit.Close()

	hub := livebus.NewHub(cfg.LiveBus.BufferSize, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		case <-time.After(5 * time.Second):
		}
	}()

	readyCheck := func(c context.Context) error {
		if _, err := rdb.Ping(c).Result(); err != nil {
			return err
		}
		return st.Ping(c)
	}
	metricsSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	obs.StartQueueLengthUpdater(ctx, cfg, rdb, logger)

	hubStop := make(chan struct{})
	go hub.Run(hubStop)
	defer close(hubStop)

	switch role {
	case "ingest":
		ingestSrv := httpapi.StartServer(cfg, br, st, hub, audit, logger)
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpapi.Shutdown(shutdownCtx, ingestSrv)
	case "worker":
		wrk := worker.New(cfg, br, st, hub, logger)
		rep := reaper.New(cfg, rdb, logger)
		go rep.Run(ctx)
		if err := wrk.Run(ctx); err != nil {
			logger.Fatal("worker error", obs.Err(err))
		}
	case "all":
		ingestSrv := httpapi.StartServer(cfg, br, st, hub, audit, logger)
		wrk := worker.New(cfg, br, st, hub, logger)
		rep := reaper.New(cfg, rdb, logger)
		go rep.Run(ctx)
		go func() {
			if err := wrk.Run(ctx); err != nil {
				logger.Error("worker error", obs.Err(err))
				cancel()
			}
		}()
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpapi.Shutdown(shutdownCtx, ingestSrv)
	default:
		logger.Fatal("unknown role", obs.String("role", role))
	}
}
