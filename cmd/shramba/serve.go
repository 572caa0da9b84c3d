package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/shramba/internal/api"
	"github.com/erazemk/shramba/internal/store"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			logger, closeLog, err := setupLogger(cfg.Log, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			secret, err := store.GetTokenSecret(ctx, a.db)
			if err != nil {
				return err
			}

			router := api.NewRouter(api.Deps{
				DB:            a.db,
				Catalog:       a.catalog,
				Engine:        a.engine,
				Sessions:      a.sessions,
				TokenSecret:   secret,
				MaxImageBytes: cfg.Sessions.MaxImageBytes,
				Clock:         a.clock,
				Logger:        logger,
			})

			server := &http.Server{
				Addr:              cfg.Addr,
				Handler:           api.LoggingMiddleware(logger, router),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       60 * time.Second,
				WriteTimeout:      3 * time.Minute,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server started", "addr", cfg.Addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				logger.Info("shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("server forced to shutdown", "error", err)
				}
			}

			logger.Info("server stopped, closing database")
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (default :8080)")
	return cmd
}
