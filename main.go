// pdfconvapi/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pdfconvapi/api"
	"pdfconvapi/config"
	"pdfconvapi/converter"
	"pdfconvapi/logging"
	"pdfconvapi/store/memory"
	"pdfconvapi/store/postgres"
	"pdfconvapi/store/redisstore"
	"pdfconvapi/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := converter.NewDefaultRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("configure converters: %w", err)
	}

	var opts []task.Option
	if cfg.ThrottleEnable {
		opts = append(opts, task.WithResourceChecker(converter.NewResourceGuard(cfg, logger)))
	}
	taskManager, err := task.NewManager(cfg, store, registry, logger, opts...)
	if err != nil {
		return fmt.Errorf("initialize task manager: %w", err)
	}

	// Workers and the sweeper outlive the signal context so that shutdown
	// can drain them in order.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	if err := taskManager.Start(workCtx); err != nil {
		return fmt.Errorf("start task manager: %w", err)
	}
	sweeper := task.NewSweeper(store, cfg.WorkDir, cfg.SweepInterval, taskManager, logger)
	go sweeper.Run(workCtx)

	keys, err := api.NewHashedKeyStore(cfg.APIKeyHashes)
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	inspector := converter.NewInspector(cfg.WorkDir, logger)
	router := api.SetupRouter(taskManager, registry, inspector, keys, cfg, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}

	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := taskManager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("conversions still running at shutdown", zap.Error(err))
	}
	cancelWork()

	logger.Info("server exiting")
	return nil
}

// openStore connects the configured task store and returns its closer.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (task.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("using postgres task store")
		return postgres.New(pool), pool.Close, nil

	case config.StoreRedis:
		rdb, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis task store", zap.String("addr", cfg.RedisAddr))
		return redisstore.New(rdb, cfg.RedisPrefix), func() { rdb.Close() }, nil

	default:
		logger.Warn("using in-memory task store, tasks are lost on restart")
		return memory.New(), func() {}, nil
	}
}
