package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"liquidator/internal/alert"
	"liquidator/internal/bootstrap"
	"liquidator/internal/chain"
	"liquidator/internal/collector"
	"liquidator/internal/core"
	"liquidator/internal/engine"
	"liquidator/internal/executor"
	"liquidator/internal/price"
	"liquidator/internal/registry"
	"liquidator/internal/render"
	"liquidator/pkg/concurrency"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	cfg, logger := app.Cfg, app.Logger

	logger.Info("Starting cooler liquidator",
		"chain_id", cfg.Chain.ChainID,
		"factory", cfg.Chain.Factory,
		"clearinghouse", cfg.Chain.Clearinghouse)

	dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rpcClient, err := chain.Dial(dialCtx, cfg.Chain.RPCURL)
	if err != nil {
		logger.Fatal("Failed to connect RPC endpoint", "error", err)
	}
	defer rpcClient.Close()

	wsClient, err := chain.Dial(dialCtx, cfg.Chain.WSURL)
	if err != nil {
		logger.Fatal("Failed to connect websocket endpoint", "error", err)
	}
	defer wsClient.Close()

	alerts := alert.NewAlertManager(logger)
	if url := cfg.Alerts.SlackWebhookURL.Reveal(); url != "" {
		alerts.AddChannel(alert.NewSlackChannel(url))
	}
	if token := cfg.Alerts.TelegramToken.Reveal(); token != "" {
		alerts.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.TelegramChatID))
	}

	exec, err := executor.New(rpcClient, cfg.Chain.PrivateKey.Reveal(),
		big.NewInt(cfg.Chain.ChainID), alerts, logger)
	if err != nil {
		logger.Fatal("Failed to initialize executor", "error", err)
	}

	ledger, err := chain.NewClient(rpcClient, chain.Config{
		Factory:          cfg.FactoryAddress(),
		Clearinghouse:    cfg.ClearinghouseAddress(),
		From:             exec.From(),
		QueriesPerSecond: cfg.Chain.QueriesPerSecond,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize ledger client", "error", err)
	}

	prices := price.NewClient(cfg.Prices.BaseURL,
		time.Duration(cfg.Prices.TimeoutSeconds)*time.Second, logger)

	minProfit, err := price.QuoteUnits(decimal.NewFromFloat(cfg.Strategy.MinProfit))
	if err != nil {
		logger.Fatal("Invalid minimum profit", "error", err)
	}

	backfillPool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "BackfillPool",
		MaxWorkers:  cfg.Backfill.Workers,
		MaxCapacity: cfg.Backfill.QueueSize,
	}, logger)
	defer backfillPool.Stop()

	eng := engine.NewEngine(registry.New(ledger), ledger, prices, backfillPool, alerts, logger, engine.Config{
		MinProfit:             minProfit,
		RewardPeriodTargetPct: cfg.Strategy.RewardPeriodTargetPct,
		RewardAsset:           cfg.Strategy.RewardAsset,
		NativeAsset:           cfg.Strategy.NativeAsset,
	})

	events := make(chan core.Event, 1024)
	actions := make(chan core.Action, 16)

	blocks := collector.NewBlockCollector(wsClient, logger)
	originations := collector.NewLogCollector("originations", wsClient,
		ledger.OriginationQuery(0), ledger.DecodeOrigination, logger)
	repayments := collector.NewLogCollector("repayments", wsClient,
		ledger.RepayQuery(), ledger.DecodeRepay, logger)
	extensions := collector.NewLogCollector("extensions", wsClient,
		ledger.ExtendQuery(), ledger.DecodeExtend, logger)
	defaults := collector.NewLogCollector("defaults", wsClient,
		ledger.DefaultQuery(), ledger.DecodeDefault, logger)

	reporter := render.NewReporter(eng,
		func() uint64 { return uint64(time.Now().Unix()) },
		time.Duration(cfg.System.StatusIntervalSeconds)*time.Second, logger)

	err = app.Run(
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			// Collectors buffer into the event channel while the
			// backfill runs, so nothing between the snapshot block and
			// going live is missed.
			if err := eng.Sync(ctx); err != nil {
				return err
			}
			return eng.Run(ctx, events, actions)
		}),
		bootstrap.RunnerFunc(func(ctx context.Context) error { return blocks.Run(ctx, events) }),
		bootstrap.RunnerFunc(func(ctx context.Context) error { return originations.Run(ctx, events) }),
		bootstrap.RunnerFunc(func(ctx context.Context) error { return repayments.Run(ctx, events) }),
		bootstrap.RunnerFunc(func(ctx context.Context) error { return extensions.Run(ctx, events) }),
		bootstrap.RunnerFunc(func(ctx context.Context) error { return defaults.Run(ctx, events) }),
		bootstrap.RunnerFunc(func(ctx context.Context) error { return exec.Run(ctx, actions) }),
		reporter,
	)
	if err != nil {
		os.Exit(1)
	}
}
