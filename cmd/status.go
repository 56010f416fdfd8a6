package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent ingestion runs, DLQ depth, and today's counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, statusLimit)
		if err != nil {
			return infraErr(eris.Wrap(err, "list runs"))
		}
		depth, err := st.DLQDepth(ctx)
		if err != nil {
			return infraErr(eris.Wrap(err, "dlq depth"))
		}
		today, err := st.DailyMetrics(ctx, time.Now().UTC().Truncate(24*time.Hour))
		if err != nil {
			return infraErr(eris.Wrap(err, "daily metrics"))
		}

		if len(runs) == 0 {
			fmt.Println("no ingestion runs recorded, run 'ncsr-ingest run' to start")
		} else {
			formatRuns(os.Stdout, runs)
		}

		fmt.Printf("\nDead-letter queue depth: %d\n", depth)
		if today.TotalProcessed > 0 {
			fmt.Printf("Today: %d processed (%d standard / %d limited / %d minimal), %d dead-lettered, %.1f%% success\n",
				today.TotalProcessed, today.StandardProcessed, today.LimitedProcessed,
				today.MinimalProcessed, today.DeadLettered, today.SuccessRate)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

// formatRuns writes a tabular representation of ingestion runs to w.
func formatRuns(out io.Writer, runs []model.IngestionRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tTARGET\tSTATUS\tSTARTED\tDURATION\tPROCESSED\tOK\tFAILED\tDLQ\tERROR")

	for _, r := range runs {
		target := "-"
		if r.TargetDate != nil {
			target = r.TargetDate.Format("2006-01-02")
		}
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		errMsg := ""
		if r.Error != nil {
			errMsg = truncate(*r.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.Kind, target, r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur, r.Processed, r.Succeeded, r.Failed, r.DeadLettered, errMsg,
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
