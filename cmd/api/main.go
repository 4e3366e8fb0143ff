package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/dnc-compliance-engine/internal/api/rest"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/cache"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/config"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/database"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/telemetry"
	dncService "github.com/davidleathers/dnc-compliance-engine/internal/service/dnc"
)

const cleanupInterval = time.Hour

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting DNC compliance engine",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.OTelConfig{
		ServiceName:    "dnc-compliance-engine",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	entryRepo := database.NewDNCEntryRepository(pool)
	auditRepo := database.NewAuditRepository(pool)

	var decisionCache dncService.DecisionCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewDecisionCache(&cfg.Redis, cfg.Filter.DecisionCacheTTL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisCache.Close()
		decisionCache = redisCache
	}

	service, err := dncService.NewService(logger, cfg.Filter, entryRepo, auditRepo, decisionCache, nil)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	// Build the filter before accepting traffic; a failure here is not
	// fatal because checks fall back to the store until a rebuild succeeds
	if err := service.RebuildFilter(ctx); err != nil {
		logger.Error("initial filter build failed, serving degraded", zap.Error(err))
	}

	gate, err := dncService.NewGate(service, auditRepo, logger)
	if err != nil {
		return fmt.Errorf("init gate: %w", err)
	}

	analyzer := dncService.NewKeywordAnalyzer(logger)
	consumer, err := dncService.NewOptOutConsumer(analyzer, service, cfg.Detector.ConfidenceThreshold, logger)
	if err != nil {
		return fmt.Errorf("init opt-out consumer: %w", err)
	}

	handler := rest.NewDNCHandler(service, gate, consumer, logger)
	server := rest.NewServer(cfg, handler, service, logger)

	go expiredEntrySweep(ctx, service, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx := context.Background()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// expiredEntrySweep periodically deletes expired entries so the filter and
// list views stay tight. Verdict correctness never depends on this: expired
// rows are already off-list at query time.
func expiredEntrySweep(ctx context.Context, service dncService.Service, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := service.CleanupExpired(ctx, 1000)
			if err != nil {
				logger.Error("expired entry sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("swept expired entries", zap.Int("removed", removed))
			}
		}
	}
}
