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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/accounts/internal/account"
	"github.com/hongminglow/accounts/internal/app"
	"github.com/hongminglow/accounts/internal/config"
	"github.com/hongminglow/accounts/internal/logging"
	"github.com/hongminglow/accounts/internal/metrics"
	"github.com/hongminglow/accounts/internal/server"
	"github.com/hongminglow/accounts/internal/telemetry"
)

func main() {
	loadLocalEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer flush(shutdownTracer, logger)

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	queue, err := app.OpenQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	limiter, closeLimiter, err := app.RateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	m := metrics.New()
	svc := app.NewAccountService(cfg, store, queue, logger, m)
	srv := server.New(cfg, server.Deps{
		Accounts: svc,
		Store:    store,
		Limiter:  limiter,
		Metrics:  m,
		Logger:   logger,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("accounts api listening", "addr", cfg.HTTPAddress())
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown error", "error", err)
		}
		return nil
	})
	if cfg.EmbeddedWorker {
		worker := app.NewWorker(cfg, store, queue.Consumer, logger, m)
		g.Go(func() error { return worker.Run(ctx) })
	}
	if cfg.TokenPurgeInterval > 0 {
		g.Go(func() error {
			purgeTokens(ctx, svc, cfg.TokenPurgeInterval, logger)
			return nil
		})
	}
	return g.Wait()
}

func purgeTokens(ctx context.Context, svc *account.Service, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpiredTokens(ctx)
			if err != nil {
				logger.Error("purge expired tokens", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired tokens", "count", n)
			}
		}
	}
}

func flush(shutdown telemetry.ShutdownFunc, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("flush traces", "error", err)
	}
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; relying on existing environment")
	}
}
