package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var nightBatchSize int

var nightBatchCmd = &cobra.Command{
	Use:   "night-batch",
	Short: "Retry due dead-letter entries, most promising first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		if _, err := eng.NightBatch(ctx, nightBatchSize); err != nil {
			return infraErr(err)
		}
		return nil
	},
}

func init() {
	nightBatchCmd.Flags().IntVar(&nightBatchSize, "size", 0, "max entries to retry (default from config)")
	rootCmd.AddCommand(nightBatchCmd)
}
