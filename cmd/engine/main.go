package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/candles"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/emergency"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/engine"
	appinstruments "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/instruments"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/risk"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/warmup"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/config"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/interfaces"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/dedup"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/execution"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/feed"
	infrainstruments "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/instruments"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/ledger"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/marketstore"
	infrahttp "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/interfaces/http"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/metrics"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/strategy"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	candleStore, err := marketstore.NewRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("failed to init candle store: %v", err)
	}
	defer candleStore.Close()

	instrumentRepo, err := infrainstruments.NewRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("failed to init instruments repo: %v", err)
	}
	defer instrumentRepo.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var dedupStore interfaces.DedupStore
	if redisClient != nil {
		dedupStore = dedup.NewRedisStore(redisClient)
	} else {
		dedupStore = dedup.NewMemoryStore()
	}

	mode, err := execution.ParseMode(cfg.Execution.Mode, cfg.Execution.LiveAck)
	if err != nil {
		logger.Fatalf("failed to parse execution mode: %v", err)
	}
	if mode == execution.ModeLive {
		logger.Fatal("live execution has no order gateway yet; set EXECUTION_MODE=paper")
	}
	executor := execution.NewPaperExecutor(cfg.Execution.SlippageBps, logger)

	strategyCfgs, err := strategy.LoadFile(cfg.Strategies.File)
	if err != nil {
		logger.Fatalf("failed to load strategies: %v", err)
	}
	strategies, err := strategy.DefaultRegistry().BuildAll(strategyCfgs)
	if err != nil {
		logger.Fatalf("failed to build strategies: %v", err)
	}

	aggregator, err := candles.NewService(candles.Config{
		Timeframes: cfg.Market.Timeframes,
		MaxHistory: cfg.Market.MaxHistory,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to init candle aggregator: %v", err)
	}

	batchWriter := marketstore.NewBatchWriter(marketstore.BatchConfig{
		Size:    cfg.Batch.Size,
		Timeout: cfg.Batch.Timeout,
	}, candleStore, logger)
	batchWriter.Run(ctx)

	warmupSvc := warmup.NewService(warmup.Config{
		MinCandles:    cfg.Warmup.MinCandles,
		AutoCalculate: cfg.Warmup.AutoCalculate,
	}, candleStore, strategies, logger)

	monitor, err := emergency.NewService(emergency.Config{
		MaxDailyLoss:       cfg.Risk.MaxDailyLoss,
		MaxDailyLossPct:    cfg.Risk.MaxDailyLossPct,
		InitialCapital:     cfg.Risk.InitialCapital,
		CloseAllAttempts:   cfg.Risk.CloseAllAttempts,
		CloseAllRetryDelay: cfg.Risk.CloseAllRetryDelay,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to init emergency monitor: %v", err)
	}

	positionLedger := ledger.NewMemoryLedger()

	pipeline, err := risk.NewService(risk.Config{
		EnableDeduplication:     cfg.Risk.EnableDeduplication,
		DedupWindow:             cfg.Risk.DedupWindow,
		FixedLotSize:            cfg.Risk.FixedLotSize,
		MaxPositionSize:         cfg.Risk.MaxPositionSize,
		MaxPositionsPerStrategy: cfg.Risk.MaxPositionsPerStrategy,
		MaxTotalPositions:       cfg.Risk.MaxTotalPositions,
		StoreTimeout:            cfg.Risk.StoreTimeout,
	}, dedupStore, positionLedger, monitor, logger)
	if err != nil {
		logger.Fatalf("failed to init risk pipeline: %v", err)
	}

	eng, err := engine.NewService(aggregator, warmupSvc, pipeline, monitor, positionLedger, executor, batchWriter, logger)
	if err != nil {
		logger.Fatalf("failed to init engine: %v", err)
	}
	monitor.SetLiquidator(eng)

	// Preload strategy history before any live tick can reach them.
	if err := warmupSvc.Run(ctx); err != nil {
		logger.Fatalf("warmup aborted: %v", err)
	}

	consumer, err := feed.NewConsumer(feed.Config{
		URL:      cfg.Broker.URL,
		Exchange: cfg.Broker.TicksExchange,
		Prefetch: cfg.Broker.Prefetch,
	}, eng.OnTick, logger)
	if err != nil {
		logger.Fatalf("failed to init tick consumer: %v", err)
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatalf("failed to start tick consumer: %v", err)
	}

	instrumentService := appinstruments.NewService(instrumentRepo)

	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	handler := infrahttp.NewHandler(infrahttp.Deps{
		Monitor:       monitor,
		Warmup:        warmupSvc,
		Positions:     positionLedger,
		Decisions:     pipeline,
		Candles:       aggregator,
		Archive:       candleStore,
		Catalog:       instrumentService,
		ExecutionMode: string(mode),
		Cache:         redisClient,
		CacheTTL:      cacheTTL,
	})

	server := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: handler,
	}
	metricsServer := metrics.Serve(cfg.Metrics.Addr)

	go func() {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	logger.WithFields(logrus.Fields{
		"symbols":    cfg.Market.Symbols,
		"timeframes": len(cfg.Market.Timeframes),
		"strategies": len(strategies),
		"mode":       string(mode),
	}).Info("engine running")

	<-ctx.Done()
	logger.Info("shutting down engine")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("metrics server shutdown error: %v", err)
	}

	// Stop intake, then seal and drain so no aggregated candle is lost. The
	// writer is rebound to the shutdown context first: the root context is
	// already canceled and would reject the final flush.
	if err := consumer.Close(); err != nil {
		logger.Errorf("consumer close error: %v", err)
	}
	batchWriter.Run(shutdownCtx)
	eng.Flush()
	if err := batchWriter.Stop(shutdownCtx); err != nil {
		logger.Errorf("batch writer drain error: %v", err)
	}
	logger.Info("engine stopped")
}
