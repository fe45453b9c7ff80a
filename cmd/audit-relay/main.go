package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/attaboy/identity/internal/handler"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("audit relay failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("audit-relay connected to postgres")

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	var publisher infra.Publisher = producer
	if !producer.Enabled() {
		publisher = infra.LogPublisher{Logger: logger}
	}

	metrics := infra.NewMetrics()
	poller := infra.NewOutboxPoller(pool, repository.NewOutboxRepository(), publisher, logger,
		cfg.OutboxPollInterval, cfg.OutboxBatchSize).WithMetrics(metrics)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Run(ctx)
		return nil
	})

	if cfg.RelayMetricsPort > 0 {
		r := chi.NewRouter()
		r.Get("/health", handler.HealthHandler(map[string]handler.HealthCheck{
			"postgres": func(ctx context.Context) error { return infra.HealthCheck(ctx, pool) },
		}))
		r.Handle("/metrics", metrics.Handler())

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.RelayMetricsPort),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("relay metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("audit-relay shutting down")
	return nil
}
