// Package main запускает HTTP-сервер сервиса заказов.
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
	"golang.org/x/sync/errgroup"

	"github.com/retailmesh/pricing-system/internal/config"
	"github.com/retailmesh/pricing-system/internal/handler"
	"github.com/retailmesh/pricing-system/internal/middleware"
	"github.com/retailmesh/pricing-system/internal/pricing"
	"github.com/retailmesh/pricing-system/internal/repository"
	"github.com/retailmesh/pricing-system/internal/sharding"
	"github.com/retailmesh/pricing-system/internal/transport"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParseOrdering(os.Args[1:])
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	dsns := cfg.ShardDSNs()
	if len(dsns) == 0 {
		sugar.Fatalw("no shard databases configured")
	}

	router, err := sharding.NewRouter(len(dsns), sharding.DefaultTables(), cfg.Policy(), logger)
	if err != nil {
		sugar.Fatalw("shard router error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.NewShardedOrderStore(ctx, dsns, router, logger)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer store.Close()

	client := transport.NewClient(cfg.LoyaltyAddress, cfg.InternalSecret, logger)

	calc := pricing.NewCalculator(pricing.NewMemoryPendingStore(), client, logger, cfg.DiscountTimeout)

	h := handler.NewOrderingHandler(calc, store, router, client, logger, handler.OrderingOptions{
		WaitTimeout:           cfg.DiscountTimeout,
		DegradeOnLoyaltyError: cfg.DegradeOnLoyaltyError,
	})

	sig := middleware.NewSignatureMiddleware(cfg.InternalSecret)
	r := h.SetupRouter(sig)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая чистка просроченных расчётов скидок
	g.Go(func() error {
		calc.StartExpiry(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting ordering server", "addr", cfg.RunAddress, "shards", len(dsns))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
