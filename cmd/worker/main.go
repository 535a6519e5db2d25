package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/research-assistant/internal/bootstrap"
	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/observability/logging"
	"github.com/kirillkom/research-assistant/internal/observability/metrics"
)

const serviceName = "research-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewJSONLogger(serviceName, "info").Fatal("config_error", zap.Error(err))
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:      logger,
		Observer:    workerMetrics.Pipeline(),
		ServiceName: serviceName,
		WithQueue:   true,
	})
	if err != nil {
		logger.Fatal("bootstrap_error", zap.Error(err))
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux(workerMetrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed",
		zap.String("subject", cfg.NATSSubject),
		zap.String("metrics_port", cfg.WorkerMetricsPort),
	)
	if err := app.Queue.SubscribeRequests(ctx, workerMetrics.Instrument(app.Relay), cfg.WorkerRequestTimeout); err != nil {
		logger.Error("worker_subscribe_error", zap.Error(err))
	}
}

func metricsMux(m *metrics.WorkerMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
