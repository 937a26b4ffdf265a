package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clausecheck/internal/api"
	"clausecheck/internal/catalog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("building provision embedding cache",
			zap.Int("provisions", s.catalogs.Current().Len()),
			zap.String("engine", s.embedder.Name()))
		if err := s.service.Bootstrap(ctx); err != nil {
			return err
		}

		var watcher *catalog.Watcher
		if s.cfg.Catalog.Watch {
			watcher, err = catalog.NewWatcher(s.catalogs)
			if err != nil {
				return err
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()
		}

		httpSrv := &http.Server{
			Addr:    s.cfg.Server.Addr,
			Handler: api.NewServer(s.service).Handler(),
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", zap.String("addr", s.cfg.Server.Addr))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}

		// Let running analyses settle their terminal state before the
		// store closes under them.
		s.service.Wait()
		return nil
	},
}
