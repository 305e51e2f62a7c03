// Package main запускает HTTP-сервер сервиса лояльности.
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

	"github.com/retailmesh/pricing-system/internal/benefit"
	"github.com/retailmesh/pricing-system/internal/config"
	"github.com/retailmesh/pricing-system/internal/coupon"
	"github.com/retailmesh/pricing-system/internal/handler"
	"github.com/retailmesh/pricing-system/internal/ledger"
	"github.com/retailmesh/pricing-system/internal/middleware"
	"github.com/retailmesh/pricing-system/internal/repository"
	"github.com/retailmesh/pricing-system/internal/rewards"
	"github.com/retailmesh/pricing-system/internal/transport"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParseLoyalty(os.Args[1:])
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	thresholds, err := cfg.TierScaleThresholds()
	if err != nil {
		sugar.Fatalw("tier configuration error", "error", err.Error())
	}

	scale, err := ledger.NewTierScale(thresholds)
	if err != nil {
		sugar.Fatalw("tier configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.NewLoyaltyStore(ctx, cfg.DatabaseURI, logger)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer store.Close()

	ledgerSvc := ledger.NewService(store, scale, logger)
	benefits := benefit.NewResolver(store)
	coupons := coupon.NewValidator(store, logger)

	processor := rewards.NewProcessor(coupons, benefits, ledgerSvc, logger)

	client := transport.NewClient(cfg.OrderingAddress, cfg.InternalSecret, logger)

	h := handler.NewLoyaltyHandler(processor, client, logger)

	sig := middleware.NewSignatureMiddleware(cfg.InternalSecret)
	r := h.SetupRouter(sig)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting loyalty server", "addr", cfg.RunAddress)
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
