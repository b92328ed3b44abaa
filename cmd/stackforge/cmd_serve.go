package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/stackforge/internal/api"
	"github.com/yairfalse/stackforge/internal/config"
	"github.com/yairfalse/stackforge/internal/daemon"
	"github.com/yairfalse/stackforge/internal/journal"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the provisioning API.

Routes:
  POST /api/recommendations        recommend a bundle
  POST /api/provision              provision an account and its services
  GET  /api/accounts               list accounts
  GET  /api/accounts/:key          show an account
  POST /api/accounts/:key/refresh  re-check creating resources
  POST /api/accounts/:key/reset    clear a failed account
  GET  /api/catalog                list every service
  GET  /healthz                    liveness and refresh loop status
  GET  /metrics                    Prometheus metrics`,
	Example: `  stackforge serve
  stackforge serve --addr :9000 -c stackforge.toml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	s, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := s.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	apiOpts := api.Options{
		Logger:  logger,
		Metrics: s.telemetry.MetricsHandler(),
	}

	var refresher *daemon.Daemon
	if cfg.Refresh.IsEnabled() {
		refresher, err = daemon.NewDaemon(daemon.Config{Interval: cfg.Refresh.Interval.Duration}, s.engine, s.telemetry.MeterProvider(), logger)
		if err != nil {
			return fmt.Errorf("create refresh daemon: %w", err)
		}
		apiOpts.Health = func() interface{} { return refresher.Health() }
	}

	router := api.NewRouter(s.engine, apiOpts)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		ReadHeaderTimeout: cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(httpActor(srv, cfg.Server.ShutdownTimeout.Duration, logger))
	if refresher != nil {
		g.Add(daemonActor(refresher))
	}
	if s.journal != nil {
		g.Add(cleanupActor(cfg.Journal, time.Hour, logger))
	}

	logger.Info().Str("addr", cfg.Server.Addr).Str("version", version).Msg("stackforge serving")
	err = g.Run()

	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

func httpActor(srv *http.Server, shutdownTimeout time.Duration, log zerolog.Logger) (func() error, func(error)) {
	execute := func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
	interrupt := func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}
	return execute, interrupt
}

func daemonActor(d *daemon.Daemon) (func() error, func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	return func() error { return d.Start(ctx) }, func(error) { cancel() }
}

// cleanupActor prunes expired journal files once at start and then on
// every tick.
func cleanupActor(jc config.JournalConfig, every time.Duration, log zerolog.Logger) (func() error, func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	execute := func() error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			st, err := journal.Cleanup(jc.Dir, journalConfig(jc), time.Now())
			if err != nil {
				log.Warn().Err(err).Msg("journal cleanup")
			} else if st.FilesRemoved > 0 {
				log.Info().Int("files", st.FilesRemoved).Int64("bytes", st.BytesFreed).Msg("journal cleanup")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
	return execute, func(error) { cancel() }
}
