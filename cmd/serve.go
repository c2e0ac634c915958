/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gitstars/internal/bootstrap"
	"gitstars/internal/bootstrap/logging"
	"gitstars/internal/errs"
	"gitstars/internal/server"
	"gitstars/internal/usecase/stats"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stats HTTP server",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *stats.Service, srv *server.Server) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		// Schema creation is lazy and idempotent; serving does not require
		// a prior init-db run.
		if err := app.InitSchema(ctx); err != nil {
			return errs.Wrap(err, "ensure schema")
		}

		signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(signalCtx)
		g.Go(func() error {
			logging.Info(ctx, "http server starting", slog.String("addr", app.Config.Server.Addr))
			return srv.Start()
		})
		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			logging.Info(ctx, "http server stopping")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errs.Wrap(err, "shutdown http server")
			}
			// Deferred cache writes finish before fx tears the store down.
			return errs.Wrap(svc.Flush(shutdownCtx), "flush pending writes")
		})

		if err := g.Wait(); err != nil {
			return errs.Wrap(err, "serve")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
