package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/feedbot/internal/config"
	"github.com/Dicklesworthstone/feedbot/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config

	closeLog = func() error { return nil }

	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedbot",
		Short: "Budgeted feed engagement bot",
		Long: `feedbot walks a social feed on a schedule and likes or comments on posts
while staying inside per-category daily and hourly action budgets.

Quick Start:
  feedbot config init        # Write a default config file
  feedbot once               # Run a single feed pass
  feedbot run --serve        # Run on a schedule with the dashboard API
  feedbot status             # Show budget usage and circuit state`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for commands that don't need it
			if cmd.Name() == "version" || cmd.Name() == "init" || cmd.Name() == "path" {
				return nil
			}

			var err error
			cfg, err = config.LoadOrDefault(cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			return setupLogging(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/feedbot/config.toml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(),
		newOnceCmd(),
		newServeCmd(),
		newStatusCmd(),
		newMetricsCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

func setupLogging(stderr io.Writer) error {
	rot := logging.Rotation{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}

	w := stderr
	var closers []func() error
	if cfg.Log.File != "" {
		f, closer, err := logging.OpenFile(cfg.Log.File, rot)
		if err != nil {
			return err
		}
		w = f
		closers = append(closers, closer)
	}
	handler := logging.NewHandler(w, cfg.Log.Level, cfg.Log.Format)

	if cfg.Log.ErrorFile != "" {
		ew, closer, err := logging.OpenFile(cfg.Log.ErrorFile, rot)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return err
		}
		closers = append(closers, closer)
		handler = logging.Tee(handler, logging.NewHandler(ew, "error", cfg.Log.Format))
	}

	closeLog = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	logging.Install(handler)
	return nil
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = closeLog() }()
	return rootCmd.Execute()
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, Version)
				return
			}
			fmt.Fprintf(out, "feedbot version %s\n", Version)
			fmt.Fprintf(out, "  commit:  %s\n", Commit)
			fmt.Fprintf(out, "  built:   %s\n", Date)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefault()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Print(cfg, cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	return cmd
}
