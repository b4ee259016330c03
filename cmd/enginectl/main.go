// Command enginectl runs the options engine: the backtest REST/WebSocket
// surface plus the live monitoring plumbing in paper mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/api"
	"github.com/atlas-quant/optionengine/internal/backtest"
	"github.com/atlas-quant/optionengine/internal/config"
	"github.com/atlas-quant/optionengine/internal/gateway"
	"github.com/atlas-quant/optionengine/internal/instrument"
	"github.com/atlas-quant/optionengine/internal/live"
	"github.com/atlas-quant/optionengine/internal/monitor"
	"github.com/atlas-quant/optionengine/internal/restart"
	"github.com/atlas-quant/optionengine/internal/store"
	"github.com/atlas-quant/optionengine/internal/workers"
	"github.com/atlas-quant/optionengine/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (optional)")
		dev        = flag.Bool("dev", false, "development logging")
		port       = flag.Int("port", 0, "override server port")
		paperEntry = flag.Bool("paper-entry", false, "enter a paper NIFTY straddle at startup")
	)
	flag.Parse()

	logger := setupLogger(*dev)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	if err := run(logger, cfg, *paperEntry); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

func setupLogger(dev bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func run(logger *zap.Logger, cfg config.EngineConfig, paperEntry bool) error {
	dataStore, err := store.NewStore(logger, cfg.DataDir)
	if err != nil {
		return err
	}
	execLog, err := store.NewExecutionLog(logger, cfg.DataDir)
	if err != nil {
		return err
	}

	// Process-wide shared resources: one order pool, one rate limiter, one
	// instrument dump cache.
	orderPool := workers.NewPool(logger, workers.OrderPoolConfig())
	orderPool.Start()
	defer orderPool.Stop()

	limiter := gateway.NewRateLimiter()

	// The broker gateway is an external collaborator; the engine binary
	// ships with the deterministic paper gateway wired in.
	gw := gateway.NewSimGateway()
	resolver := instrument.NewResolver(logger, gw, limiter)
	basket := gateway.NewBasketExecutor(logger, gw, orderPool, limiter)

	dispatcher := monitor.NewTickDispatcher(logger, monitor.DefaultDispatcherConfig())
	defer dispatcher.Stop()

	restartScheduler := restart.NewScheduler(logger, restart.Config{
		Enabled:         cfg.AutoRestartEnabled,
		PaperEnabled:    cfg.AutoRestartPaperEnabled,
		LiveEnabled:     cfg.AutoRestartLiveEnabled,
		MaxAutoRestarts: cfg.MaxAutoRestarts,
	}, orderPool)

	runner := live.NewRunner(logger, cfg, gw, basket, resolver, dispatcher, restartScheduler, orderPool, execLog)

	engine := backtest.NewEngine(logger, dataStore, cfg.Charges)

	// Seed a synthetic NIFTY dump so backtests (and the paper gateway)
	// resolve contracts without a live broker session; a real dump replaces
	// this when one is available.
	spot := decimal.NewFromInt(24000)
	expiry := utils.NextFiveMinuteBoundary(time.Now().In(utils.MarketZone())).AddDate(0, 0, 7)
	dump := instrument.SyntheticDump("NIFTY", expiry, spot, 20)
	engine.SetInstrumentDump(dump)
	gw.SetInstruments("NFO", dump)
	gw.SetLTP("NIFTY", spot)

	if paperEntry {
		pair, err := instrument.ResolveATMFromDump(dump, "NIFTY", expiry, spot)
		if err != nil {
			return err
		}
		gw.SetLTP(pair.CE.TradingSymbol, decimal.NewFromInt(180))
		gw.SetLTP(pair.PE.TradingSymbol, decimal.NewFromInt(175))

		executionID, err := runner.EnterStraddle(context.Background(), live.EntryParams{
			UserID:     "paper",
			Underlying: "NIFTY",
			Expiry:     expiry,
			Lots:       1,
			Direction:  monitor.Short,
			SLMode:     monitor.SLModePoints,
			Mode:       restart.ModePaper,
		}, spot, nil, true)
		if err != nil {
			return err
		}
		logger.Info("paper straddle entered", zap.String("execution_id", executionID))
	}

	server := api.NewServer(logger, &cfg.Server, engine, dataStore)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}
