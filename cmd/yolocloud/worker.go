package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/yolocloud/internal/config"
	"github.com/jbweber/yolocloud/internal/metrics"
	"github.com/jbweber/yolocloud/internal/task"
)

const shutdownTimeout = 10 * time.Second

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume lifecycle tasks from the NATS broker",
	Long: `Run a worker that consumes lifecycle tasks from the JetStream task stream
and executes them on a bounded pool.

The worker owns the database while it runs. It requires a NATS broker;
with "broker: local" every command runs its tasks in-process instead.

Examples:
  yolocloud worker --broker nats://127.0.0.1:4222
  yolocloud worker --workers 8 --metrics-addr :9100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Broker == config.BrokerLocal {
			return fmt.Errorf("worker requires a NATS broker, got %q", cfg.Broker)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg, true)
		if err != nil {
			return err
		}
		return runWorker(ctx, a)
	},
}

func init() {
	workerCmd.Flags().Int("workers", 0, "maximum tasks executed concurrently")
	workerCmd.Flags().String("metrics-addr", "", "listen address of the /metrics endpoint (disabled when empty)")
}

func runWorker(ctx context.Context, a *app) (err error) {
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	consumer := task.NewConsumer(a.js, a.runner, a.logger.Named("consumer"))
	if err := consumer.Start(); err != nil {
		return err
	}

	var srv *http.Server
	srvErr := make(chan error, 1)
	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(a.registry))
		srv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
	}

	a.logger.Info("worker started",
		zap.String("broker", a.cfg.Broker),
		zap.Int("workers", a.cfg.Workers),
		zap.String("metrics_addr", a.cfg.MetricsAddr))

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		err = fmt.Errorf("metrics server failed: %w", err)
	}

	// Stop intake, let accepted tasks finish, then settle their messages
	// before the connection is drained.
	a.logger.Info("worker stopping")
	if stopErr := consumer.Stop(); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to drain subscription: %w", stopErr))
	}
	a.runner.Stop()
	consumer.Wait()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to stop metrics server: %w", shutdownErr))
		}
	}
	return err
}
