package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/staging"
)

var resolveDecisionsPath string

var resolveCmd = &cobra.Command{
	Use:   "resolve <batch-id>",
	Short: "Apply approve/reject decisions to a held batch and resume it",
	Long:  "Reads a decisions JSON file and applies it to a batch in held_for_approval. The batch returns to validating, is re-assessed, and is promoted, held again, or rejected.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		batchID := args[0]

		data, err := os.ReadFile(resolveDecisionsPath)
		if err != nil {
			return eris.Wrapf(err, "read decisions file %s", resolveDecisionsPath)
		}
		var decisions staging.Decisions
		if err := json.Unmarshal(data, &decisions); err != nil {
			return eris.Wrapf(err, "parse decisions file %s", resolveDecisionsPath)
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.manager.ResolvePending(ctx, batchID, decisions); err != nil {
			return eris.Wrapf(err, "resolve batch %s", batchID)
		}

		batch, err := e.manager.GetBatchStatus(ctx, batchID)
		if err != nil {
			return err
		}
		zap.L().Info("batch resolved",
			zap.String("batch", batchID),
			zap.String("state", string(batch.State)),
			zap.Int("pending_imputations", len(batch.PendingImputations())),
		)
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveDecisionsPath, "decisions", "", "path to decisions JSON file (required)")
	_ = resolveCmd.MarkFlagRequired("decisions")
	rootCmd.AddCommand(resolveCmd)
}
