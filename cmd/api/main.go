package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/safar/storefront/internal/cache"
	"github.com/safar/storefront/internal/catalog"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/handlers"
	"github.com/safar/storefront/internal/payment"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/telemetry"
	"github.com/safar/storefront/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database")

	rdb, err := cache.NewClient(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis client: %w", err)
	}
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Redis.OpTimeout)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		log.Warn("redis unreachable, featured products will be read from the database", "error", err)
	}

	pg := store.NewPostgres(db)
	featuredCache := cache.NewRedisCache(rdb, cache.Options{
		Prefix:    cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.TTL,
		OpTimeout: cfg.Redis.OpTimeout,
	}, log)

	if cfg.Payment.StripeSecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY is not set, checkout calls will fail")
	}
	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:  cfg.Payment.StripeSecretKey,
		Currency:   cfg.Payment.Currency,
		SuccessURL: cfg.Payment.SuccessURL(),
		CancelURL:  cfg.Payment.CancelURL(),
		Timeout:    cfg.Payment.RequestTimeout,
	})

	catalogService := catalog.NewService(pg, featuredCache, log)
	checkoutService := checkout.NewService(pg, pg, gateway, checkout.Config{
		CouponThresholdMinor: cfg.Checkout.CouponThresholdMinor,
		CouponPercent:        cfg.Checkout.CouponPercent,
		CouponValidity:       cfg.Checkout.CouponValidity,
		CouponCodePrefix:     cfg.Checkout.CouponCodePrefix,
	}, log)

	router := handlers.NewRouter(handlers.Services{
		Checkout: checkoutService,
		Catalog:  catalogService,
		Orders:   pg,
		Webhooks: payment.NewWebhookVerifier(cfg.Payment.StripeWebhookSecret),
		DB:       pg,
	}, handlers.RouterConfig{
		Auth:             cfg.Auth,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		RequestTimeout:   cfg.Server.RequestTimeout,
		ShowErrorDetails: !cfg.App.IsProduction(),
	}, log)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      telemetry.Handler(router, cfg.Tracing.ServiceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "address", addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}
