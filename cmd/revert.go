package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	revertRow   int
	revertField string
)

var revertCmd = &cobra.Command{
	Use:   "revert <batch-id>",
	Short: "Revert one applied imputation, restoring the original absent value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		batchID := args[0]

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.manager.RevertImputation(ctx, batchID, revertRow, revertField); err != nil {
			return eris.Wrapf(err, "revert imputation %s row %d field %s", batchID, revertRow, revertField)
		}
		zap.L().Info("imputation reverted",
			zap.String("batch", batchID),
			zap.Int("row", revertRow),
			zap.String("field", revertField),
		)
		return nil
	},
}

func init() {
	revertCmd.Flags().IntVar(&revertRow, "row", 0, "row index of the imputed record")
	revertCmd.Flags().StringVar(&revertField, "field", "", "imputed field name (required)")
	_ = revertCmd.MarkFlagRequired("field")
	rootCmd.AddCommand(revertCmd)
}
