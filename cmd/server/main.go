package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/quick-commerce/internal/adapter/handler"
	"github.com/rl1809/quick-commerce/internal/adapter/notify"
	"github.com/rl1809/quick-commerce/internal/adapter/storage"
	"github.com/rl1809/quick-commerce/internal/adapter/system"
	"github.com/rl1809/quick-commerce/internal/config"
	"github.com/rl1809/quick-commerce/internal/core/service"
	"github.com/rl1809/quick-commerce/internal/port"
)

const dispatchTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	dialect, err := storage.ParseDialect(cfg.DBDriver)
	if err != nil {
		return err
	}
	db, err := storage.Open(ctx, dialect, cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db, dialect); err != nil {
		return err
	}
	logger.Info("connected to database", "driver", dialect)

	clock := system.Clock{}
	ids := system.UUIDGenerator{}
	store := storage.NewSQLAdapter(db)

	// Initialize Redis when configured. Offers are published there so every
	// instance can deliver them to its own websocket clients.
	var (
		cache  port.IdempotencyCache
		source handler.OfferSource
		sender notify.Sender
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("connected to redis", "addr", cfg.RedisAddr)

		redisAdapter := storage.NewRedisAdapter(rdb)
		cache = redisAdapter
		source = redisAdapter
		sender = redisAdapter
	}

	hub := handler.NewOfferHub(source, logger)
	if sender == nil {
		sender = hub
	}

	pool := notify.NewPool(sender, notify.Config{
		Workers:    cfg.NotifyWorkers,
		QueueSize:  cfg.NotifyQueueSize,
		RatePerSec: cfg.NotifyRate,
	}, clock, logger)

	// Initialize services
	inventory := service.NewInventoryService(store, clock, ids, logger)
	dispatch := service.NewDispatchService(store, pool, clock, ids, logger, service.DispatchConfig{
		Fanout:    cfg.OfferFanout,
		QueueSize: cfg.DispatchQueueSize,
	})
	svc := handler.Services{
		Inventory: inventory,
		Carts:     service.NewCartService(store, clock, ids, logger),
		Checkout:  service.NewCheckoutService(store, inventory, cache, clock, ids, logger),
		Orders:    service.NewOrderService(store, dispatch, clock, logger),
		Dispatch:  dispatch,
	}

	// Start dispatch workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.DispatchWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, dispatch, logger)
		}(i)
	}
	logger.Info("started dispatch workers", "count", cfg.DispatchWorkers)

	auth := handler.NewAuthenticator(cfg.JWTSecret)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryAuthInterceptor(auth)))
	handler.RegisterFulfillmentServer(grpcServer, handler.NewGRPCHandler(svc, logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(svc, auth, hub, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Close the dispatch queue and let workers drain it
	dispatch.Close()
	wg.Wait()
	logger.Info("dispatch workers stopped")

	pool.Close()
	stats := pool.Stats()
	logger.Info("notifier stopped", "sent", stats.Sent, "failed", stats.Failed, "dropped", stats.Dropped)
	return nil
}

func workerLoop(id int, dispatch *service.DispatchService, logger *slog.Logger) {
	for orderID := range dispatch.Queue() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		logger.Debug("dispatching order", "worker", id, "order_id", orderID)
		dispatch.HandleQueued(ctx, orderID)
		cancel()
	}
}
