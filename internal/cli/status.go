package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/feedbot/internal/app"
	"github.com/Dicklesworthstone/feedbot/internal/metrics"
	"github.com/Dicklesworthstone/feedbot/internal/output"
	"github.com/Dicklesworthstone/feedbot/internal/ratelimit"
	"github.com/Dicklesworthstone/feedbot/internal/state"
)

const statusRuns = 5

// StatusReport is the persisted state shown by `feedbot status`.
type StatusReport struct {
	GeneratedAt time.Time         `json:"generated_at" yaml:"generated_at"`
	SuccessRate float64           `json:"success_rate" yaml:"success_rate"`
	DailyStats  map[string]int    `json:"daily_stats" yaml:"daily_stats"`
	Errors      map[string]int    `json:"errors" yaml:"errors"`
	Budget      []ratelimit.Usage `json:"budget" yaml:"budget"`
	Runs        []state.Run       `json:"runs" yaml:"runs"`
}

func newStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage, today's metrics and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := app.Open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := buildStatus(a)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), f)
			return out.Output(report, func(w io.Writer) error {
				return renderStatus(w, report, output.NewStyles(output.ColorEnabled(w)))
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json, yaml")
	return cmd
}

func buildStatus(a *app.App) (*StatusReport, error) {
	runs, err := a.State.RecentRuns(statusRuns)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		GeneratedAt: time.Now(),
		SuccessRate: a.Metrics.SuccessRate(""),
		DailyStats:  a.Metrics.DailyStats(),
		Errors:      a.Metrics.ErrorDistribution(),
		Budget:      a.Budget.Snapshot(),
		Runs:        runs,
	}, nil
}

func renderStatus(w io.Writer, r *StatusReport, st output.Styles) error {
	fmt.Fprintln(w, st.Title.Render("Budget"))
	rows := make([][]string, 0, len(r.Budget))
	for _, u := range r.Budget {
		mark := "ok"
		if u.Exhausted() {
			mark = "exhausted"
		}
		rows = append(rows, []string{
			string(u.Category),
			fmt.Sprintf("%d/%d", u.Daily, u.DailyMax),
			fmt.Sprintf("%d/%d", u.Hourly, u.HourlyMax),
			ratelimit.FormatDelay(u.Delay),
			mark,
		})
	}
	fmt.Fprint(w, indent(output.Table([]string{"CATEGORY", "TODAY", "LAST HOUR", "PACING", "STATE"}, rows, 24)))

	fmt.Fprintln(w)
	fmt.Fprintln(w, st.Title.Render("Today"))
	fmt.Fprintf(w, "  %s %.1f%%\n", st.Label.Render("success rate:"), r.SuccessRate)
	fmt.Fprintf(w, "  %s %s  %s %s\n",
		st.Label.Render("successful:"), st.OK.Render(fmt.Sprint(r.DailyStats[metrics.StatSuccessfulRequests])),
		st.Label.Render("failed:"), st.Bad.Render(fmt.Sprint(r.DailyStats[metrics.StatFailedRequests])),
	)
	classes := make([]string, 0, len(r.Errors))
	for class := range r.Errors {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	parts := make([]string, 0, len(classes))
	for _, class := range classes {
		parts = append(parts, fmt.Sprintf("%s=%d", class, r.Errors[class]))
	}
	fmt.Fprintf(w, "  %s %s\n", st.Label.Render("errors:"), strings.Join(parts, " "))

	fmt.Fprintln(w)
	fmt.Fprintln(w, st.Title.Render("Recent runs"))
	if len(r.Runs) == 0 {
		fmt.Fprintln(w, st.Muted.Render("  no runs recorded"))
		return nil
	}
	rows = rows[:0]
	for _, run := range r.Runs {
		rows = append(rows, []string{
			run.StartedAt.Local().Format("01-02 15:04:05"),
			fmt.Sprint(run.Executed),
			fmt.Sprint(run.Skipped),
			fmt.Sprint(run.Failed),
			run.Error,
		})
	}
	fmt.Fprint(w, indent(output.Table([]string{"STARTED", "EXECUTED", "SKIPPED", "FAILED", "ERROR"}, rows, 48)))
	return nil
}

func indent(s string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString("  ")
		b.WriteString(l)
	}
	return b.String()
}
