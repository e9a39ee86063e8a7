package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"grid_trader/internal/alert"
	"grid_trader/internal/config"
	"grid_trader/internal/exchange"
	"grid_trader/internal/infrastructure/metrics"
	"grid_trader/internal/ledger"
	"grid_trader/internal/trading/controller"
	"grid_trader/pkg/logging"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		bootstrap, _ := logging.NewZapLogger("INFO")
		bootstrap.Fatal("Failed to load configuration", "file", *configFile, "error", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		bootstrap, _ := logging.NewZapLogger("INFO")
		bootstrap.Fatal("Failed to initialize logger", "error", err)
	}

	tag := cfg.Strategy.Tag(cfg.Exchange.Name)
	logger.Info("Starting grid trader", "strategy", tag, "config", *configFile)

	exch, err := exchange.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize exchange", "error", err)
	}

	txLedger, err := ledger.New(cfg.Ledger, logger)
	if err != nil {
		logger.Fatal("Failed to initialize transaction ledger", "error", err)
	}
	defer func() {
		if err := txLedger.Close(); err != nil {
			logger.Error("Failed to close transaction ledger", "error", err)
		}
	}()

	notifier := alert.NewManager(tag, logger)
	defer notifier.Close()
	if cfg.Alert.TelegramBotToken != "" {
		notifier.AddChannel(alert.NewTelegramChannel(cfg.Alert.TelegramBotToken, cfg.Alert.TelegramChatID))
	}
	if cfg.Alert.SlackWebhookURL != "" {
		notifier.AddChannel(alert.NewSlackChannel(cfg.Alert.SlackWebhookURL))
	}

	var metricsServer *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsServer.Start()
	}

	ctrl := controller.NewController(cfg, exch, txLedger, notifier, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(runCtx)
	})

	err = g.Wait()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if stopErr := metricsServer.Stop(shutdownCtx); stopErr != nil {
			logger.Error("Failed to stop metrics server", "error", stopErr)
		}
		cancel()
	}

	if err != nil && err != context.Canceled {
		logger.Fatal("Strategy exited with error", "error", err)
	}
	logger.Info("Shutdown complete", "strategy", tag)
}
