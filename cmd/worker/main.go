// Command worker consumes queued tasks, such as welcome mails, outside the API process.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/accounts/internal/app"
	"github.com/hongminglow/accounts/internal/config"
	"github.com/hongminglow/accounts/internal/logging"
	"github.com/hongminglow/accounts/internal/metrics"
	"github.com/hongminglow/accounts/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; relying on existing environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.QueueBackend == config.QueueMemory {
		log.Fatal("the standalone worker needs a shared queue; set QUEUE_BACKEND to redis or rabbitmq")
	}
	logger := logging.New(cfg.ServiceName+"-worker", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(ctx, cfg.ServiceName+"-worker", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

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

	m := metrics.New()
	metricsSrv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.NewWorker(cfg, store, queue.Consumer, logger, m).Run(ctx)
	})
	g.Go(func() error {
		logger.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
