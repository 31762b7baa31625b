// Command ucl-sync-worker runs sync jobs scheduled through Temporal and
// serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/ucl-sync/internal/activities"
	"github.com/nucleus/ucl-sync/internal/config"
	_ "github.com/nucleus/ucl-sync/internal/connector/all"
	"github.com/nucleus/ucl-sync/internal/logger"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	log := logger.Component("worker")

	log.Info("starting ucl-sync worker",
		"address", cfg.TemporalAddress,
		"namespace", cfg.TemporalNamespace,
		"queue", cfg.TaskQueue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		startMetrics(ctx, cfg.MetricsAddr)
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    logger.NewTemporalLogger(),
	})
	if err != nil {
		log.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(activities.SyncWorkflow, workflow.RegisterOptions{Name: activities.SyncWorkflowName})
	w.RegisterActivity(activities.NewActivities(nil, cfg))

	interrupt := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(interrupt)
	}()
	if err := w.Run(interrupt); err != nil {
		log.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

// metricsHandler serves /metrics and /healthz.
func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func startMetrics(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: metricsHandler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Component("metrics").Error("metrics server error", "error", err)
		}
	}()
}
