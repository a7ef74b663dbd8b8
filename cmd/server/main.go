package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/elixirhk/stockroom/internal/adapter/handler"
	"github.com/elixirhk/stockroom/internal/adapter/metrics"
	"github.com/elixirhk/stockroom/internal/adapter/storage"
	"github.com/elixirhk/stockroom/internal/config"
	"github.com/elixirhk/stockroom/internal/core/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	log := config.NewLogger(cfg.LogLevel, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	dialect, err := storage.ParseDialect(cfg.DBDriver)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	store, err := storage.Open(ctx, dialect, cfg.DBDSN, storage.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect %s: %v", dialect, err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate %s: %v", dialect, err)
	}
	log.WithField("driver", dialect).Info("connected to database")

	prom := metrics.NewPrometheus()
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(prom),
	}

	// Initialize Redis
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		opts = append(opts, service.WithCache(storage.NewRedisAdapter(rdb)))
		log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	} else {
		log.Warn("REDIS_ADDR not set, idempotency keys and stock cache disabled")
	}

	core := service.New(store, opts...)

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterStockroomServer(grpcServer, handler.NewGRPCHandler(core))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	go func() {
		log.Infof("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC server error")
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(core, log, []byte(cfg.JWTSecret), prom.Handler())
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	log.Info("HTTP server stopped")

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	log.Info("gRPC server stopped")

	// Close connections
	if rdb != nil {
		rdb.Close()
	}
	store.Close()
	log.Info("connections closed")
}
