package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/feedbot/internal/app"
)

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Maintain the action metrics log",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Zero today's counters (the record log is kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Metrics.ResetDailyStats()
			if err := a.Metrics.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daily stats reset")
			return nil
		},
	})

	var retention time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Drop records older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if retention <= 0 {
				retention = cfg.Metrics.Retention.Duration
			}
			n := a.Metrics.Prune(retention)
			if err := a.Metrics.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records older than %s\n", n, retention)
			return nil
		},
	}
	prune.Flags().DurationVar(&retention, "retention", 0, "retention period (default [metrics] retention)")
	cmd.AddCommand(prune)

	return cmd
}
