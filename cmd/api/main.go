package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pesaflow/mpesa-backend/internal/api"
	"github.com/pesaflow/mpesa-backend/internal/api/handlers"
	"github.com/pesaflow/mpesa-backend/internal/auth"
	"github.com/pesaflow/mpesa-backend/internal/config"
	"github.com/pesaflow/mpesa-backend/internal/db"
	"github.com/pesaflow/mpesa-backend/internal/ledger"
	"github.com/pesaflow/mpesa-backend/internal/logger"
	"github.com/pesaflow/mpesa-backend/internal/metrics"
	"github.com/pesaflow/mpesa-backend/internal/middleware"
	"github.com/pesaflow/mpesa-backend/internal/mpesa"
	"github.com/pesaflow/mpesa-backend/internal/repository/postgres"
	"github.com/pesaflow/mpesa-backend/internal/services"
	"github.com/pesaflow/mpesa-backend/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	if err := cfg.Mpesa.Validate(); err != nil {
		log.Error("gateway config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(4)
	defer wp.Stop()

	tm := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, 15*time.Minute, 7*24*time.Hour)
	userSvc := services.NewUserService(repos.Users, tm)

	gateway := mpesa.NewStack(cfg.Mpesa, nil, log)
	txnLedger := ledger.New(repos.Documents)
	paymentSvc := services.NewPaymentService(gateway, txnLedger, repos.AuditLogs, wp, log)

	metrics.Init()
	r := api.NewRouter(cfg,
		middleware.NewAuthMiddleware(tm),
		handlers.NewPaymentsHandler(paymentSvc, log),
		handlers.NewAuthHandler(userSvc),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
