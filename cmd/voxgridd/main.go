// Command voxgridd runs the eval coordination daemon: the HTTP API,
// the schedule dispatcher, and the staleness reaper over a shared
// store backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Agora-Build/voxgrid/coord"
	"github.com/Agora-Build/voxgrid/httpapi"
	"github.com/Agora-Build/voxgrid/reaper"
	"github.com/Agora-Build/voxgrid/result"
	"github.com/Agora-Build/voxgrid/schedule"
	"github.com/Agora-Build/voxgrid/store"
	"github.com/Agora-Build/voxgrid/store/memory"
	"github.com/Agora-Build/voxgrid/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "voxgridd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.buildLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var sink result.Sink = result.NopSink{}
	if cfg.Results.Endpoint != "" {
		sink = result.NewHTTPSink(cfg.Results.Endpoint,
			result.WithAuthToken(cfg.Results.AuthToken),
		)
	}

	c := coord.New(st,
		coord.WithLogger(logger),
		coord.WithSink(sink),
	)

	rp := reaper.New(st, st, logger,
		reaper.WithInterval(time.Duration(cfg.Reaper.Interval)),
		reaper.WithThreshold(time.Duration(cfg.Reaper.StaleThreshold)),
	)
	if err := rp.Start(ctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}

	disp := schedule.NewDispatcher(st, c.EnqueueForSchedule, logger,
		schedule.WithInterval(time.Duration(cfg.Dispatcher.Interval)),
	)
	if err := disp.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	api := httpapi.New(c,
		httpapi.WithLogger(logger),
		httpapi.WithAdminKey(cfg.AdminKey),
		httpapi.WithPollLimit(cfg.PollLimit.PerSecond, cfg.PollLimit.Burst),
	)
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("voxgridd listening",
			slog.String("addr", cfg.Listen),
			slog.String("store", cfg.Store.Driver),
		)
		if serveErr := srv.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if err := disp.Stop(shutdownCtx); err != nil {
		logger.Error("dispatcher stop error", slog.String("error", err.Error()))
	}
	if err := rp.Stop(shutdownCtx); err != nil {
		logger.Error("reaper stop error", slog.String("error", err.Error()))
	}
	return nil
}

func openStore(ctx context.Context, cfg fileConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		logger.Warn("using in-memory store; state is lost on restart")
		return memory.New(), nil
	}
}
