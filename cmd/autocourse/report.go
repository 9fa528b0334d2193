package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nadmax/autocourse/internal/repository/postgres"
	workerhandlers "github.com/nadmax/autocourse/internal/worker/handlers"
	"github.com/spf13/cobra"
)

var errNoPostgres = errors.New("reports read run history: set POSTGRES_DSN")

func newReportCmd(a *app) *cobra.Command {
	var req workerhandlers.ReportRequest

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export run-history aggregates to CSV or JSON",
		Long:  "Export run-history aggregates. Report types: " + strings.Join(workerhandlers.ReportTypes, ", ") + ".",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.PostgresDSN == "" {
				return errNoPostgres
			}

			repo, err := postgres.NewPostgresRunRepository(a.cfg.PostgresDSN, a.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := repo.Close(); err != nil {
					a.log.Warn("failed to close run repository", "error", err)
				}
			}()

			path, err := workerhandlers.NewReportGenerator(repo.DB(), a.log).Generate(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.ReportType, "type", "run_summary", "report type")
	cmd.Flags().StringVar(&req.StartTime, "from", "", "window start, RFC3339 (default 24h ago)")
	cmd.Flags().StringVar(&req.EndTime, "to", "", "window end, RFC3339 (default now)")
	cmd.Flags().StringVar(&req.Format, "format", "csv", "csv or json")
	cmd.Flags().StringVar(&req.OutputPath, "out", "./reports", "output directory")
	return cmd
}
