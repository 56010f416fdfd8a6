package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runDate       string
	runBackfill   int
	runMaxFilings int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest filings for a date (default: yesterday)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaily(cmd.Context(), runDate, runBackfill, runMaxFilings)
	},
}

// runDaily processes one date, or a backfill window of dates ending at the
// target. Per-filing failures are dead-lettered and never fail the process.
func runDaily(ctx context.Context, dateStr string, backfill, maxFilings int) error {
	target := time.Now().UTC().AddDate(0, 0, -1)
	if dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return usageErr(eris.Wrapf(err, "invalid --date %q, want YYYY-MM-DD", dateStr))
		}
		target = parsed
	}
	if backfill < 0 {
		return usageErr(eris.New("--backfill must not be negative"))
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return infraErr(eris.Wrap(err, "migrate store"))
	}

	eng, err := newEngine(st)
	if err != nil {
		return err
	}

	days := backfill
	if days < 1 {
		days = 1
	}
	for i := days - 1; i >= 0; i-- {
		date := target.AddDate(0, 0, -i)
		if _, err := eng.ProcessDate(ctx, date, maxFilings); err != nil {
			if ctx.Err() != nil {
				return infraErr(err)
			}
			zap.L().Error("run failed for date",
				zap.String("date", date.Format("2006-01-02")),
				zap.Error(err),
			)
			return infraErr(err)
		}
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "filing date to ingest (YYYY-MM-DD, default yesterday)")
	runCmd.Flags().IntVar(&runBackfill, "backfill", 0, "also process the N-1 days before the target date")
	runCmd.Flags().IntVar(&runMaxFilings, "max-filings", 0, "cap filings processed per date (default from config)")
	rootCmd.AddCommand(runCmd)
}
