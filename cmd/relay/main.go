package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/orderrelay/params"
	"github.com/uhyunpark/orderrelay/pkg/api"
	"github.com/uhyunpark/orderrelay/pkg/broker"
	"github.com/uhyunpark/orderrelay/pkg/executor"
	"github.com/uhyunpark/orderrelay/pkg/hub"
	"github.com/uhyunpark/orderrelay/pkg/relay"
	"github.com/uhyunpark/orderrelay/pkg/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load config from .env, configs/relay.yaml and environment variables
	cfg, err := params.Load("")
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	var logger *zap.Logger
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Printf("logger: %v", err)
		return 1
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Broker ----
	b, err := broker.New(ctx, cfg.Broker, sugar)
	if err != nil {
		sugar.Errorw("broker_connect_failed", "kind", cfg.Broker.Kind, "err", err)
		return 1
	}
	defer b.Close()
	sugar.Infow("broker_connected", "kind", cfg.Broker.Kind)

	// ---- WebSocket hub + relay ----
	h := hub.NewHub(cfg.WS, sugar)
	rl := relay.New(cfg.RelayConfig(), b, h, util.RealClock{}, sugar)
	if err := rl.Start(ctx); err != nil {
		sugar.Errorw("relay_subscribe_failed", "topic", cfg.Topics.Reports, "err", err)
		return 1
	}

	// ---- Loopback executor (optional) ----
	// Enable with: EXECUTOR_ENABLED=true
	if cfg.Executor.Enabled {
		stopExecutor, err := executor.New(cfg.ExecutorConfig(), b, util.RealClock{}, sugar).Start(ctx)
		if err != nil {
			sugar.Errorw("executor_start_failed", "err", err)
			return 1
		}
		defer stopExecutor()
	} else {
		sugar.Info("executor_disabled - reports must come from an external publisher")
	}

	// ---- API Server ----
	apiServer := api.NewServer(cfg.API(), b, h, rl, util.RealClock{}, sugar)

	errCh := make(chan error, 2)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := rl.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	sugar.Infow("relay_node_started",
		"addr", cfg.Server.Addr,
		"broker", cfg.Broker.Kind,
		"orders_topic", cfg.Topics.Orders,
		"reports_topic", cfg.Topics.Reports,
		"relay_mode", cfg.Relay.Mode,
		"executor", cfg.Executor.Enabled)

	code := 0
	select {
	case <-ctx.Done():
		sugar.Info("shutdown_signal_received")
	case err := <-errCh:
		sugar.Errorw("fatal_component_error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		sugar.Warnw("api_server_shutdown_failed", "err", err)
	}
	sugar.Infow("relay_node_stopped", "exit_code", code)
	return code
}
