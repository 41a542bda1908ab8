package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the scan scheduler",
		Long: `Starts the HTTP server exposing scan, job and maintenance endpoints.
Unless --no-scheduler is set, scheduled projects are scanned when their cron
expression comes due and maintenance runs on driver.maintenance_cron.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			logger := a.Logger

			srv := &http.Server{
				Addr:              a.Addr(),
				Handler:           a.Server().Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			if !noScheduler {
				go a.Scheduler.Run(ctx)
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
			}
			logger.Info("shutdown initiated")
			cancel()

			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			if serveErr != nil {
				return fmt.Errorf("http server: %w", serveErr)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without the scheduler")
	return cmd
}
