/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"gitstars/internal/bootstrap/logging"
	"gitstars/internal/errs"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "gitstars",
	Short:        "Cached GitHub repository and user statistics service",
	Long:         "HTTP service fronting the GitHub API with a SQLite cache, serving bounded-staleness repository and user statistics while protecting the upstream rate limit.",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logger := slog.New(slog.NewTextHandler(rootCmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	ctx = logging.WithLogger(ctx, logger)
	ctx = logging.WithAttrs(ctx, slog.String("app", "gitstars"))

	rootCmd.SetContext(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error(ctx, "command execution failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "execute root command")
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "Config file path")
}
