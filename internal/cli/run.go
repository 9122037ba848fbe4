package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/feedbot/internal/app"
	"github.com/Dicklesworthstone/feedbot/internal/output"
	"github.com/Dicklesworthstone/feedbot/internal/state"
)

func newRunCmd() *cobra.Command {
	var withServe bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run feed passes on a schedule",
		Long: `Run a feed pass immediately and then every [scheduler] interval until
interrupted. Overlapping passes are skipped, and the loop holds back while
every action category's circuit is open.

The cookie file is watched and reloaded when it changes. With --serve (or
[serve] enabled = true) the dashboard API runs alongside the loop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, withServe || cfg.Serve.Enabled)
		},
	}
	cmd.Flags().BoolVar(&withServe, "serve", false, "also start the dashboard API")
	return cmd
}

func runLoop(cmd *cobra.Command, withServe bool) error {
	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()
	if err := a.Connect(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Scheduler.Run(ctx)
	})
	if w := a.CookieWatcher(); w != nil {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	if withServe {
		srv := a.Server()
		fmt.Fprintf(cmd.OutOrStdout(), "Serving dashboard API on http://%s\n", srv.Addr())
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	return g.Wait()
}

func newOnceCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single feed pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			return runOnce(cmd, f)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json, yaml")
	return cmd
}

func runOnce(cmd *cobra.Command, format output.Format) error {
	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Connect(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := a.Scheduler.RunOnce(ctx)

	runs, err := a.State.RecentRuns(1)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return runErr
	}
	f := output.New(cmd.OutOrStdout(), format)
	if err := f.Output(runs[0], func(w io.Writer) error {
		return renderRun(w, runs[0], output.NewStyles(output.ColorEnabled(w)))
	}); err != nil {
		return err
	}
	return runErr
}

func renderRun(w io.Writer, r state.Run, st output.Styles) error {
	fmt.Fprintf(w, "%s %s\n", st.Title.Render("Run"), r.ID)
	fmt.Fprintf(w, "  processed: %d\n", r.Processed)
	fmt.Fprintf(w, "  executed:  %s\n", st.OK.Render(fmt.Sprint(r.Executed)))
	fmt.Fprintf(w, "  skipped:   %s\n", st.Warn.Render(fmt.Sprint(r.Skipped)))
	fmt.Fprintf(w, "  failed:    %s\n", st.Bad.Render(fmt.Sprint(r.Failed)))
	fmt.Fprintf(w, "  duration:  %s\n", r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", st.Bad.Render(r.Error))
	}
	return nil
}
