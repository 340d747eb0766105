package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/ai"
	"github.com/suPer8Hu/nl2sql-platform/internal/cache"
	"github.com/suPer8Hu/nl2sql-platform/internal/config"
	"github.com/suPer8Hu/nl2sql-platform/internal/db"
	"github.com/suPer8Hu/nl2sql-platform/internal/history"
	"github.com/suPer8Hu/nl2sql-platform/internal/httpapi"
	"github.com/suPer8Hu/nl2sql-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/nl2sql-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/nl2sql-platform/internal/nl2sql"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
	"github.com/suPer8Hu/nl2sql-platform/internal/query"
	"github.com/suPer8Hu/nl2sql-platform/internal/sqlguard"
	"github.com/suPer8Hu/nl2sql-platform/internal/store/rabbitmq"
	"github.com/suPer8Hu/nl2sql-platform/internal/store/redisstore"
	"github.com/suPer8Hu/nl2sql-platform/internal/warehouse"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	metaDB, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	repo := history.NewRepo(metaDB)
	if err := repo.AutoMigrate(); err != nil {
		return err
	}

	warehouseDB := metaDB
	if cfg.WarehouseDSN != cfg.DBDSN {
		if warehouseDB, err = db.Connect(cfg.DBDriver, cfg.WarehouseDSN); err != nil {
			return err
		}
	}

	reg := ai.NewDefaultRegistry(cfg)
	provider, err := reg.Get(context.Background(), cfg.AIProvider, "")
	if err != nil {
		return err
	}
	client := nl2sql.NewClient(provider, logger)

	var rds *redisstore.Store
	if cfg.CacheBackend == "redis" {
		rds = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rds.Ping(context.Background()); err != nil {
			rds.Close()
			return err
		}
		defer rds.Close()
	}

	var store cache.Store = cache.NewMemory(cfg.CacheTTL)
	var limiter middleware.Limiter = middleware.NewMemoryLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	if rds != nil {
		store = cache.NewRedis(rds, cfg.CacheTTL)
		limiter = middleware.NewRedisLimiter(rds, cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	var sink history.Sink = repo
	if cfg.HistorySink == "rabbitmq" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		sink = history.NewQueueSink(pub)
	}

	orch := query.NewOrchestrator(
		client,
		warehouse.NewExecutor(warehouseDB, logger),
		warehouse.NewSchemaDescriber(warehouseDB, nl2sql.DefaultSchema, 10*time.Minute, logger),
		history.NewRecorder(sink, logger),
		query.Options{
			Policy: sqlguard.Policy{
				BlockedKeywords: cfg.SQLBlockedKeywords,
				EnforceReadOnly: cfg.SQLEnforceReadOnly,
				AutoLimit:       cfg.SQLAutoLimit,
			},
			MaxRows: cfg.QueryMaxRows,
			Cache:   store,
			Logger:  logger,
		},
	)

	h := handlers.NewHandler(orch, query.NewExplainer(client, logger), repo, logger)
	h.Ready = func(ctx context.Context) error { return ping(ctx, metaDB) }

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(httpapi.Deps{Cfg: cfg, Handler: h, Limiter: limiter, Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr, "provider", cfg.AIProvider, "model", client.Model(),
			"cache", cfg.CacheBackend, "history_sink", cfg.HistorySink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
