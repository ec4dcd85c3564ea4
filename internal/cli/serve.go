package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mohans/reportq/asyncx"
	"github.com/mohans/reportq/migrations"
	"github.com/mohans/reportq/report"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the report worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("queue-name", "generic", "base queue name; high/normal/low queues derive from it")
	serveCmd.Flags().Int("concurrency", 10, "number of reports processed concurrently")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics server address")
	bindFlag("queue_name", serveCmd.Flags(), "queue-name")
	bindFlag("concurrency", serveCmd.Flags(), "concurrency")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := migrations.Up(a.db, cfg.DBDriver, logger); err != nil {
		return err
	}

	p := asyncx.NewProcessor(a.redisOpt(), asyncx.ProcessorConfig{
		Concurrency: cfg.Concurrency,
		Queue:       cfg.QueueName,
		Logger:      logger,
	})
	report.Register(p, a.exec, a.tasks, a.catalog, logger)

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, logger)
	}

	logger.Info("worker starting",
		slog.String("queue", cfg.QueueName),
		slog.Int("concurrency", cfg.Concurrency),
		slog.String("db_driver", cfg.DBDriver),
	)
	if err := p.Start(); err != nil {
		return fmt.Errorf("start processor: %w", err)
	}
	<-ctx.Done()
	logger.Info("shutting down, draining in-flight reports...")
	p.Shutdown()
	logger.Info("stopped cleanly")
	return nil
}

// startMetricsServer serves /metrics and /healthz until ctx is cancelled.
func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
