package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/procurelabs/spachat/internal/stub"
	"github.com/spf13/cobra"
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run a local stub gateway for development",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Stub.FilesDir, 0o755); err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              ":" + cfg.Stub.Port,
			Handler:           stub.New(cfg.Stub.FilesDir, logger).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("stub gateway listening", "port", cfg.Stub.Port, "files_dir", cfg.Stub.FilesDir)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-stop:
		}

		logger.Info("shutting down stub gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
