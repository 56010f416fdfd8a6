package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ncsr-ingest/internal/report"
)

var (
	reportDate string
	reportOut  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a daily metrics and DLQ workbook (xlsx)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		date := time.Now().UTC().AddDate(0, 0, -1)
		if reportDate != "" {
			parsed, err := time.Parse("2006-01-02", reportDate)
			if err != nil {
				return usageErr(eris.Wrapf(err, "invalid --date %q, want YYYY-MM-DD", reportDate))
			}
			date = parsed
		}
		out := reportOut
		if out == "" {
			out = "ncsr-report-" + date.Format("2006-01-02") + ".xlsx"
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := report.Generate(ctx, st, date, out); err != nil {
			return infraErr(err)
		}
		zap.L().Info("report written",
			zap.String("date", date.Format("2006-01-02")),
			zap.String("path", out),
		)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "report date (YYYY-MM-DD, default yesterday)")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "output path (default ncsr-report-DATE.xlsx)")
	rootCmd.AddCommand(reportCmd)
}
