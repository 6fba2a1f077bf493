package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/clearstage/enhance/internal/model"
)

var statusFull bool

// batchSummary is the compact status view; --full prints the whole batch.
type batchSummary struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	State       model.BatchState `json:"state"`
	Records     int              `json:"records"`
	Matches     int              `json:"matches"`
	Conflicts   int              `json:"conflicts"`
	Imputations int              `json:"imputations"`
	Pending     int              `json:"pending_imputations"`
	Verdict     model.Verdict    `json:"verdict,omitempty"`
	Score       float64          `json:"score,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show batch state and accumulated reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		batch, err := e.manager.GetBatchStatus(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "status for batch %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if statusFull {
			return enc.Encode(batch)
		}

		s := batchSummary{
			ID:          batch.ID,
			TenantID:    batch.TenantID,
			State:       batch.State,
			Records:     len(batch.Records),
			Matches:     len(batch.Matches),
			Conflicts:   len(batch.Conflicts),
			Imputations: len(batch.Imputations),
			Pending:     len(batch.PendingImputations()),
		}
		if batch.Quality != nil {
			s.Verdict = batch.Quality.Verdict
			s.Score = batch.Quality.Overall
		}
		return enc.Encode(s)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusFull, "full", false, "print the full batch including all reports")
	rootCmd.AddCommand(statusCmd)
}
