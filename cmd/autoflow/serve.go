package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/autoflow/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the MCP endpoint and the built-in scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c)
		},
	}
	cmd.Flags().String("listen-addr", "", "TCP listen address")
	cmd.Flags().Bool("no-scheduler", false, "disable the built-in ticker; rely on POST /api/scheduler/trigger")
	_ = c.viper.BindPFlag("listen_addr", cmd.Flags().Lookup("listen-addr"))
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if off, _ := cmd.Flags().GetBool("no-scheduler"); off {
			c.cfg.Scheduler.Enabled = false
		}
		return nil
	}
	return cmd
}

func runServe(ctx context.Context, c *cli) error {
	logger := c.logger(os.Stderr)
	a, err := newApp(ctx, c.cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.listener != nil {
		if err := a.listener.Start(); err != nil {
			return err
		}
		logger.Info("listening for sync completions", "nats_url", c.cfg.NATS.URL)
	}

	var ticker *scheduler.Ticker
	if c.cfg.Scheduler.Enabled {
		ticker = scheduler.NewTicker(a.driver, c.cfg.Scheduler.Interval, logger)
		if err := ticker.Start(ctx); err != nil {
			return err
		}
		defer ticker.Stop()
	}

	server := &http.Server{
		Addr:              c.cfg.ListenAddr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"address", c.cfg.ListenAddr,
			"db_path", c.cfg.DBPath,
			"scheduler", c.cfg.Scheduler.Enabled,
			"interval", c.cfg.Scheduler.Interval,
			"version", version)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if ticker != nil {
		ticker.Stop()
	}
	if err := server.Shutdown(sctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("server close error", "error", err)
		}
	}
	logger.Info("server stopped gracefully")
	return nil
}
