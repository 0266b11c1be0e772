package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowflow/api"
	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/contract"
	"escrowflow/credential"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/logging"
	"escrowflow/metrics"
	"escrowflow/migrations"
	"escrowflow/outbox"
	"escrowflow/timesession"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, closer := logging.Setup(logging.Options{
		Service: "escrowflow",
		Env:     cfg.Environment,
		File:    cfg.LogFile,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("escrowflow exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.Pool.MaxConns,
		MinConns:        cfg.Pool.MinConns,
		MaxConnLifetime: cfg.Pool.MaxConnLifetime,
		ApplicationName: "escrowflow",
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Migrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			return err
		}
		files, err := migrations.Files()
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "files", files)
	}

	metrics.Register()

	events := outbox.NewWriter()

	contracts := contract.NewService(pool, contract.NewPGRepository(), events, events).
		WithSkillRegistry(credential.NewPGRegistry()).
		WithLogger(logger)
	disputes := dispute.NewService(pool, dispute.NewPGRepository(), contracts, events, events).
		WithLogger(logger)
	sessions := timesession.NewService(pool, timesession.NewPGRepository(), contracts)
	credentials := credential.NewService(pool, credential.NewPGRegistry())
	users := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	hub := outbox.NewHub()
	relay := outbox.NewRelay(pool, outbox.NewPGStore(), hub, cfg.OutboxBatch, cfg.OutboxInterval, logger)
	limiter := api.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)

	server := api.New(api.Config{
		Auth:        users,
		Contracts:   contracts,
		Disputes:    disputes,
		Sessions:    sessions,
		Credentials: credentials,
		Events:      hub,
		Limiter:     limiter,
		Logger:      logger,
		Tracing:     true,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
