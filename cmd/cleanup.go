package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cleanupRetentionDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal filings older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cleanupRetentionDays < 0 {
			return usageErr(eris.New("--retention-days must not be negative"))
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return infraErr(eris.Wrap(err, "migrate store"))
		}

		if cleanupRetentionDays > 0 {
			cfg.Retention.Days = cleanupRetentionDays
		}

		eng, err := newEngine(st)
		if err != nil {
			return err
		}
		if _, err := eng.Cleanup(ctx); err != nil {
			return infraErr(err)
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", 0, "retention window override (default from config)")
	rootCmd.AddCommand(cleanupCmd)
}
