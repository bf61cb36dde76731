package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic cycle scheduler",
		Long: `Run one clustering cycle per configured campus every cycle.interval.

On start every campus's cache pointer is reconciled with the durable store.
A campus whose previous cycle is still running skips the tick. Metrics are
served on metrics.addr when set.

Example:
  solmeal serve --config ./solmeal.yaml
  SOLMEAL_NATS_EMBEDDED=true solmeal serve --db ./solmeal.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, appOptions{cache: true, prometheus: true}, serve)
		},
	}
	return cmd
}

func serve(parent context.Context, a *app, f *OutputFormatter) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("metrics listening", "addr", addr)
	}

	for _, campusID := range a.cfg.Campuses {
		repaired, err := a.lifecycle.Reconcile(ctx, campusID)
		if err != nil {
			a.logger.Error("reconcile failed", "campus_id", campusID, "error", err)
			continue
		}
		if repaired {
			a.logger.Info("cache pointer repaired", "campus_id", campusID)
		}
	}

	ticker := time.NewTicker(a.cfg.Cycle.Interval)
	defer ticker.Stop()

	a.logger.Info("scheduler starting", "campuses", len(a.cfg.Campuses), "interval", a.cfg.Cycle.Interval)
	fmt.Fprintln(f.Writer, "Scheduler started. Press Ctrl-C to stop.")

	if err := a.trigger.Run(ctx, ticker.C); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}

	a.logger.Info("scheduler stopped gracefully")
	return nil
}
