/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"gitstars/internal/bootstrap"
	"gitstars/internal/bootstrap/logging"
	"gitstars/internal/errs"
	"gitstars/internal/server"
	"gitstars/internal/usecase/stats"
)

// quotaCmd represents the quota command
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the current upstream rate-limit window",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *stats.Service, _ *server.Server) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		quota, err := svc.Quota(ctx)
		if err != nil {
			return errs.Wrap(err, "fetch quota")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "limit=%d remaining=%d reset=%s\n",
			quota.Limit, quota.Remaining, quota.ResetAt.Format("2006-01-02T15:04:05Z07:00")); err != nil {
			return errs.Wrap(err, "write quota output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}
