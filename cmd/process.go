package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processCmd = &cobra.Command{
	Use:   "process <batch-id>",
	Short: "Run the enhancement pipeline on a populated batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		batchID := args[0]

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.manager.Process(ctx, batchID); err != nil {
			return eris.Wrapf(err, "process batch %s", batchID)
		}

		batch, err := e.manager.GetBatchStatus(ctx, batchID)
		if err != nil {
			return err
		}
		zap.L().Info("batch processed",
			zap.String("batch", batchID),
			zap.String("state", string(batch.State)),
			zap.Int("pending_imputations", len(batch.PendingImputations())),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
