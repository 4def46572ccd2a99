// cmd/harvester/serve.go
package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/SiteHarvester/internal/app"
)

func newServeCmd(global *globalFlags) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API and progress streams over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if address != "" {
				cfg.Server.Address = address
			}

			a, err := app.New(cfg, logger, app.WithVersion(version))
			if err != nil {
				return err
			}
			defer a.Close()

			srv := a.HTTPServer()
			errCh := make(chan error, 1)
			go func() {
				logger.WithFields(map[string]interface{}{
					"address": srv.Addr,
					"version": version,
					"sites":   a.Registry.IDs(),
				}).Info("API server listening")
				if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err, ok := <-errCh:
				if ok {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			timeout := cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("HTTP shutdown: %v", err)
			}
			if err := a.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("Jobs did not finish before the deadline: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address, overrides server.address")
	return cmd
}
