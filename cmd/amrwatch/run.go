package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/archive"
	"github.com/rewired-gh/amrwatch/internal/export"
	"github.com/rewired-gh/amrwatch/internal/logger"
	"github.com/rewired-gh/amrwatch/internal/models"
	"github.com/rewired-gh/amrwatch/internal/notify"
	"github.com/rewired-gh/amrwatch/internal/summary"
)

type runOptions struct {
	start, end string
	locations  []string
	organisms  []string
	top        int
	xlsx       string
	export     bool
	notify     bool
	archive    bool
	json       bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch analysis and print the alert summary",
		Long: `Run one batch analysis over every selected group and print the headline
figures and latest alerts.

Baselines always use each group's complete history; --start and --end only
restrict which days are reported.

Example: amrwatch run --start 2024-03-01 --organism "E. coli" --xlsx march.xlsx --notify`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			return runBatch(cmd.Context(), e, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.start, "start", "", "First reported day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.end, "end", "", "Last reported day (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&opts.locations, "location", nil, "Only analyse these locations")
	cmd.Flags().StringSliceVar(&opts.organisms, "organism", nil, "Only analyse these organisms")
	cmd.Flags().IntVar(&opts.top, "top", -1, "Only analyse the N most frequent organisms (default analysis.top_organisms, 0 for all)")
	cmd.Flags().StringVar(&opts.xlsx, "xlsx", "", "Write rows and alerts to this Excel file")
	cmd.Flags().BoolVar(&opts.export, "export", false, "Write an Excel file named after the run into export.dir")
	cmd.Flags().BoolVar(&opts.notify, "notify", false, "Send the alert digest to Telegram even if telegram.enabled is false")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "Archive alerts to DynamoDB even if archive.enabled is false")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the full batch as JSON instead of the summary")

	return cmd
}

func runBatch(ctx context.Context, e *env, opts runOptions, out io.Writer) error {
	cfg := e.cfg

	req := analysis.Request{
		Params:    paramsFrom(cfg),
		Locations: opts.locations,
		Organisms: opts.organisms,
	}
	if logger.Enabled(logger.DebugLevel) {
		req.Progress = func(current, total int, label string) {
			logger.Debug("[%d/%d] %s", current, total, label)
		}
	}
	var err error
	if req.Start, err = parseDay(opts.start); err != nil {
		return err
	}
	if req.End, err = parseDay(opts.end); err != nil {
		return err
	}

	top := opts.top
	if top < 0 {
		top = cfg.Analysis.TopOrganisms
	}
	if len(req.Organisms) == 0 && top > 0 {
		if req.Organisms, err = e.store.TopOrganisms(ctx, top); err != nil {
			return fmt.Errorf("failed to list top organisms: %w", err)
		}
		logger.Info("Analysing the %d most frequent organisms", len(req.Organisms))
	}

	batch, err := analysis.NewRunner(e.store, cfg.Analysis.Concurrency).Run(ctx, req)
	if err != nil {
		return err
	}
	sum := summary.Summarize(batch.Rows)

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(batch); err != nil {
			return fmt.Errorf("failed to encode batch: %w", err)
		}
	} else {
		printSummary(out, batch.Meta, sum)
	}

	if opts.xlsx != "" {
		if err := export.WriteWorkbook(opts.xlsx, batch.Rows, sum.LatestAlerts); err != nil {
			return err
		}
		logger.Info("Workbook written to %s", opts.xlsx)
	}
	if opts.export {
		if err := os.MkdirAll(cfg.Export.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export dir: %w", err)
		}
		path := filepath.Join(cfg.Export.Dir, fmt.Sprintf("amrwatch-%s.xlsx", batch.Meta.RunID))
		if err := export.WriteWorkbook(path, batch.Rows, sum.LatestAlerts); err != nil {
			return err
		}
		logger.Info("Workbook written to %s", path)
	}

	if opts.notify || cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, cfg.Telegram.MaxAlerts)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		if err := tg.Send(ctx, batch.Meta, sum.LatestAlerts); err != nil {
			logger.Error("Failed to send Telegram digest: %v", err)
		}
	}

	if opts.archive || cfg.Archive.Enabled {
		arc, err := archive.Open(cfg.Archive.Region, cfg.Archive.Table)
		if err != nil {
			return err
		}
		if _, err := arc.Put(ctx, batch.Meta, sum.LatestAlerts); err != nil {
			return fmt.Errorf("failed to archive alerts: %w", err)
		}
	}
	return nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

func printSummary(out io.Writer, meta analysis.RunMeta, s summary.Summary) {
	fmt.Fprintf(out, "Run %s: %d groups, %d emitted, %d rows (window %dd, z > %g, %s)\n",
		meta.RunID, meta.GroupsTotal, meta.GroupsEmitted, meta.Rows, meta.WindowDays, meta.ZThreshold, meta.WindowMode)
	fmt.Fprintf(out, "Alert rows: %d, active alerts: %d, affected locations: %d of %d\n",
		s.AlertRows, s.ActiveAlerts, s.AffectedLocations, s.TotalLocations)
	if s.RateAlertZ != nil {
		fmt.Fprintf(out, "Rate alert z: median %.2f, max %.2f\n", s.RateAlertZ.Median, s.RateAlertZ.Max)
	}
	if len(s.LatestAlerts) == 0 {
		return
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tLOCATION\tORGANISM\tRATE\tZ RATE\tCOUNT\tZ COUNT\tSIGNAL")
	for _, r := range s.LatestAlerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Day.Format(time.DateOnly), r.Location, r.Organism,
			cell(r.Rate), cell(r.ZRate), cell(r.DailyCount), cell(r.ZCount), alertKind(r))
	}
	_ = tw.Flush()
}

func cell(v float64) string {
	if p := models.Finite(v); p != nil {
		return fmt.Sprintf("%.2f", *p)
	}
	return "-"
}

func alertKind(r models.ScoredRow) string {
	switch {
	case r.IsAlertRate && r.IsAlertCount:
		return "rate+count"
	case r.IsAlertRate:
		return "rate"
	default:
		return "count"
	}
}
