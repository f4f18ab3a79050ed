package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"vaultswap/config"
	"vaultswap/core/events"
	"vaultswap/native/escrow"
	"vaultswap/observability/logging"
	"vaultswap/rpc"
	"vaultswap/state"
	"vaultswap/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var logOpts []logging.Option
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logging.WithWriter(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		}))
	}
	logger := logging.Setup("vaultswapd", cfg.NetworkName, logOpts...)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ledger := state.NewManager(db)
	eventLog := events.NewLog(cfg.EventLogSize)
	engine := escrow.NewEngine()
	engine.SetLedger(ledger)
	engine.SetEmitter(eventLog)

	server := rpc.NewServer(engine, ledger, eventLog)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress, "network", cfg.NetworkName)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("stopped")
}
