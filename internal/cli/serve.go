package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/feedbot/internal/app"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API without running the bot",
		Long: `Start a local HTTP server exposing the dashboard API over the persisted
metrics and conversation database.

API Endpoints:
  GET /api/dashboard/stats        Totals, success rate, activity and errors
  GET /api/budget                 Budget usage and circuit state
  GET /api/runs                   Recent feed passes
  GET /api/conversations/:code    One conversation with its interactions
  GET /api/scheduler              Scheduler statistics (only under 'run')
  GET /metrics                    Prometheus metrics
  GET /health                     Health check

Examples:
  feedbot serve                  # Start on the configured port (default 7337)
  feedbot serve --port 8080      # Start on custom port`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Serve.Port = port
			}
			return runServe(cmd)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides [serve] port)")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := a.Server()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving dashboard API on http://%s\n", srv.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	return srv.Start(ctx)
}
