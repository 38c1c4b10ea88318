// Command gateway is the Robot Telemetry Gateway's entrypoint: it
// loads configuration, builds the Fleet Registry against the Robot
// Inventory, starts the downstream HTTP/WebSocket server, and runs
// until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/bridge"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/bridgeconn"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/config"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/inventory"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/mapping"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/robot"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging.Level)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	invClient := inventory.NewClient(cfg.Inventory.URL)
	factory := adapter.Factory(func(url string) adapter.BridgeConnection {
		return bridgeconn.New(url, logger)
	})

	tun := robot.Tunables{
		TFStaleMs:        cfg.Tunables.TFStaleMs,
		AMCLMinDeltaPos:  cfg.Tunables.AMCLMinDeltaPos,
		AMCLMinDeltaYaw:  cfg.Tunables.AMCLMinDeltaYaw,
		PoseEps:          cfg.Tunables.PoseEps,
		TeleopMaxLinear:  cfg.Tunables.TeleopMaxLinear,
		TeleopMaxAngular: cfg.Tunables.TeleopMaxAngular,
		TeleopWatchdogMs: cfg.Tunables.TeleopWatchdogMs,
	}

	registry := robot.NewRegistry(invClient, factory, tun, cfg.Bridge.Port, cfg.Bridge.MappingPort, cfg.Bridge.MappingSet, logger)

	if cfg.MapStore.URL != "" {
		fetcher := mapping.New(cfg.Tunables.MappingFetchTimeout, logger)
		store := mapping.NewHTTPStore(cfg.MapStore.URL)
		registry.SetMappingTrigger(func(ctx context.Context, robotID, ip string, port int) {
			fetcher.Fetch(ctx, robotID, ip, port, store)
		})
	} else {
		logger.Info("MAP_STORE_URL unset, mapping fetcher disabled")
	}

	if err := registry.Reload(ctx); err != nil {
		logger.Warn("initial fleet reconcile failed, will retry on next poll", zap.Error(err))
	}

	var notifier *bridge.InventoryNotifier
	if cfg.Redis.URL != "" {
		notifier, err = bridge.NewInventoryNotifier(cfg.Redis.URL, cfg.Redis.Stream, cfg.Redis.ConsumerGroup, logger)
		if err != nil {
			logger.Warn("redis inventory notifications disabled", zap.Error(err))
			notifier = nil
		}
	}

	go pollInventory(ctx, registry, cfg.Inventory.PollInterval, logger)
	if notifier != nil {
		go notifier.Watch(ctx, "gateway", func() {
			if err := registry.Reload(ctx); err != nil {
				logger.Warn("reconcile triggered by redis notification failed", zap.Error(err))
			}
		})
	}

	srv := server.New(registry, 600, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	cancel()
	registry.StopAll()
	if notifier != nil {
		_ = notifier.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("gateway stopped")
}

// pollInventory calls Reload on an interval for as long as ctx is
// live — the fallback path that keeps the Fleet Registry converged
// even with no Redis notifier configured.
func pollInventory(ctx context.Context, registry *robot.Registry, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.Reload(ctx); err != nil {
				logger.Warn("fleet reconcile failed", zap.Error(err))
			}
		}
	}
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
