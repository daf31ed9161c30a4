package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/aline-bot/internal/api"
	"github.com/nugget/aline-bot/internal/buildinfo"
	"github.com/nugget/aline-bot/internal/notify"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LINE webhook server and the job scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), opts.configPath)
		},
	}
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Aline", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"env", cfg.Env,
		"port", cfg.Listen.Port,
		"data_dir", cfg.DataDir,
		"router_model", cfg.Models.Router,
		"handler_model", cfg.Models.Handler,
	)

	// --- Signal handling ---
	// Cancellation from SIGINT/SIGTERM flows through the same ctx used
	// by every background component.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Core ---

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.stations != nil && cfg.Stations.Watch {
		go func() {
			if err := a.stations.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Error("station directory watch stopped", "error", err)
			}
		}()
	}

	// --- Delivery ---

	var line *notify.Line
	if cfg.Line.Configured() {
		line = notify.NewLine(cfg.Line.BaseURL, cfg.Line.ChannelToken, cfg.Line.PushPerSecond, logger)
		logger.Info("line messaging configured", "push_per_second", cfg.Line.PushPerSecond)
	} else {
		logger.Warn("line messaging disabled (line.channel_token not set)")
	}
	sink, stopSink, err := a.sink(ctx, line)
	if err != nil {
		return err
	}
	defer stopSink()

	// --- Scheduler ---

	engine := a.engine(sink)
	if cfg.Scheduler.Disabled {
		logger.Info("scheduler disabled")
	} else {
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer engine.Stop()
	}

	// --- API server ---

	deps := api.Deps{
		Chat:             a.chat,
		Jobs:             a.jobs,
		Extractor:        a.extractor,
		Ticker:           engine,
		ChannelSecret:    cfg.Line.ChannelSecret,
		RequireSignature: cfg.Env == "prod",
		Token:            cfg.API.Token,
	}
	if line != nil {
		deps.Line = line
	}
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, deps, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	// Blocks until Shutdown.
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	server.Wait()

	logger.Info("Aline stopped")
	return nil
}
