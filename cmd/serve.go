package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/api"
	"github.com/sells-group/saleslist/internal/config"
	"github.com/sells-group/saleslist/internal/gate"
	"github.com/sells-group/saleslist/internal/monitoring"
	"github.com/sells-group/saleslist/internal/ngeval"
	"github.com/sells-group/saleslist/internal/ngmatch"
	"github.com/sells-group/saleslist/internal/store"
	"github.com/sells-group/saleslist/internal/usage"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the NG gate API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tracker, closeTracker, err := initTracker(ctx, cfg.Usage)
		if err != nil {
			return err
		}
		defer closeTracker()

		handler, checker := buildServer(st, tracker, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
		if checker != nil {
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildServer wires the gate services to the HTTP handler. The checker is
// nil unless monitoring is enabled.
func buildServer(st store.Store, tracker *usage.Tracker, c *config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer) (http.Handler, *monitoring.Checker) {
	metrics := monitoring.NewMetrics(reg)
	matcher := ngmatch.New(st,
		ngmatch.WithWorkers(c.Matcher.Workers),
		ngmatch.WithRetryAttempts(c.Matcher.RetryAttempts),
		ngmatch.WithObserver(metrics),
	)
	collector := monitoring.NewCollector(st, tracker)

	srv := api.NewServer(api.Deps{
		Store:          st,
		Gate:           gate.New(st, gate.WithObserver(metrics)),
		Matcher:        matcher,
		Evaluator:      ngeval.New(st),
		Collector:      collector,
		Metrics:        metrics,
		Gatherer:       gatherer,
		AllowedOrigins: c.Server.AllowedOrigins,
	})

	var checker *monitoring.Checker
	if c.Monitoring.Enabled {
		checker = monitoring.NewChecker(collector, monitoring.NewAlerter(c.Monitoring), metrics, c.Monitoring)
	}
	return srv.Handler(), checker
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
