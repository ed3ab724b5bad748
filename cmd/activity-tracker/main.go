// Command activity-tracker records application usage, battery and device
// state into a local SQLite database and exposes it over D-Bus.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/activity-tracker/internal/analysis"
	"github.com/cptspacemanspiff/activity-tracker/internal/config"
	"github.com/cptspacemanspiff/activity-tracker/internal/export"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	verbose    bool
	logTopics  string
}

func (f *globalFlags) load() (*config.Config, *slog.Logger, error) {
	topics, err := parseTopics(f.logTopics, f.verbose)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(os.Stderr, topics), nil
}

// withApp opens the shared components, runs fn and closes them again.
func (f *globalFlags) withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := f.load()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "activity-tracker",
		Short:         "Record application usage, battery and device activity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultPath(), "configuration file")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable all verbose logging (equivalent to --log=all)")
	root.PersistentFlags().StringVar(&flags.logTopics, "log", "", "comma-separated log topics: "+strings.Join(logTopics, ",")+" (or 'all')")

	root.AddCommand(
		newDaemonCmd(flags),
		newCollectCmd(flags),
		newAnalyzeCmd(flags),
		newExportCmd(flags),
		newPurgeCmd(flags),
		newPrefsCmd(flags),
		newResetDBCmd(flags),
	)
	return root
}

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the tracking service, scheduled work and D-Bus service",
		RunE: func(_ *cobra.Command, _ []string) error {
			return flags.withApp(func(ctx context.Context, a *app) error {
				return a.runDaemon(ctx)
			})
		},
	}
}

func newCollectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Take one data snapshot of the configured lookback window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.withApp(func(ctx context.Context, a *app) error {
				p := a.prefs.Get()
				if !p.HasAnyCollectionEnabled() {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "collection disabled")
					return nil
				}
				if err := a.collector.CollectDataSnapshot(ctx, p); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "snapshot stored")
				return nil
			})
		},
	}
}

func newAnalyzeCmd(flags *globalFlags) *cobra.Command {
	var reportType string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Generate an analysis report for the latest window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reportType != analysis.ReportDaily && reportType != analysis.ReportWeekly {
				return fmt.Errorf("--type must be %s or %s", analysis.ReportDaily, analysis.ReportWeekly)
			}
			return flags.withApp(func(ctx context.Context, a *app) error {
				r, err := a.aggregator.GenerateLatest(ctx, reportType)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			})
		},
	}
	cmd.Flags().StringVar(&reportType, "type", analysis.ReportDaily, "report type: daily|weekly")
	return cmd
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var format, timeRange string
	var anonymize bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write sessions, battery samples and device events to an export file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := prefs.ExportFormat(strings.ToUpper(format))
			if f != prefs.FormatJSON && f != prefs.FormatCSV {
				return fmt.Errorf("--format must be JSON or CSV")
			}
			r := prefs.ExportTimeRange(strings.ToUpper(timeRange))
			if r != prefs.RangeAll && r != prefs.RangeLast24Hours {
				return fmt.Errorf("--range must be ALL or LAST_24_HOURS")
			}
			return flags.withApp(func(ctx context.Context, a *app) error {
				start, end := export.RangeFor(r, a.clock.Now())
				path, err := a.exporter.Export(ctx, f, start, end, anonymize)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", string(prefs.FormatJSON), "export format: JSON|CSV")
	cmd.Flags().StringVar(&timeRange, "range", string(prefs.RangeLast24Hours), "time range: ALL|LAST_24_HOURS")
	cmd.Flags().BoolVar(&anonymize, "anonymize", false, "replace package names and labels")
	return cmd
}

func newPurgeCmd(flags *globalFlags) *cobra.Command {
	var olderThanDays int
	var all bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (olderThanDays > 0) {
				return fmt.Errorf("exactly one of --all or --older-than-days is required")
			}
			return flags.withApp(func(ctx context.Context, a *app) error {
				if all {
					if err := a.db.PurgeAll(ctx); err != nil {
						return err
					}
					if _, err := a.journal.Prune(a.clock.Now().UnixMilli() + 1); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "all data deleted")
					return nil
				}
				before := a.clock.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour).UnixMilli()
				rows, err := a.db.DeleteOlderThan(ctx, before)
				if err != nil {
					return err
				}
				lines, err := a.journal.Prune(before)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rows, %d journal lines\n", rows, lines)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 0, "delete data older than N days")
	cmd.Flags().BoolVar(&all, "all", false, "delete all data")
	return cmd
}

func newPrefsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "prefs", Short: "Show or change preferences"}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current preferences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openPrefs(flags)
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(p.Get())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change one preference",
		Args:      cobra.ExactArgs(2),
		ValidArgs: prefs.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPrefs(flags)
			if err != nil {
				return err
			}
			if err := p.Set(args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	})
	return cmd
}

func openPrefs(flags *globalFlags) (*prefs.Store, error) {
	cfg, logger, err := flags.load()
	if err != nil {
		return nil, err
	}
	return prefs.Open(cfg.Storage.PrefsPath, logger)
}

func newResetDBCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-db",
		Short: "Delete the database and start fresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if err := removeDatabase(cfg.Storage.DBPath); err != nil {
				return err
			}
			logger.Info("database deleted", "path", cfg.Storage.DBPath)
			return nil
		},
	}
}
