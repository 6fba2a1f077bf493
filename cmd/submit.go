package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/model"
)

var (
	submitCSVPath string
	submitTenant  string
	submitProcess bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Stage a CSV upload as a new batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		records, err := readCSVRecords(submitCSVPath)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return eris.Errorf("submit: %s contains no data rows", submitCSVPath)
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		batchID, err := e.manager.SubmitBatch(ctx, submitTenant, records)
		if err != nil {
			return eris.Wrap(err, "submit batch")
		}
		fmt.Println(batchID)

		if submitProcess {
			if err := e.manager.Process(ctx, batchID); err != nil {
				return eris.Wrap(err, "process batch")
			}
			batch, err := e.manager.GetBatchStatus(ctx, batchID)
			if err != nil {
				return err
			}
			zap.L().Info("batch processed",
				zap.String("batch", batchID),
				zap.String("state", string(batch.State)),
			)
		}
		return nil
	},
}

// readCSVRecords parses a headered CSV into import records. Empty cells
// become absent fields; row indexes are 0-based over data rows.
func readCSVRecords(path string) ([]model.ImportRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open csv %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "read csv header %s", path)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var records []model.ImportRecord
	for row := 0; ; row++ {
		line, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read csv row %d", row)
		}

		fields := make([]model.FieldValue, 0, len(header))
		for i, name := range header {
			raw := strings.TrimSpace(line[i])
			fields = append(fields, model.FieldValue{
				Name:   name,
				Raw:    raw,
				Absent: raw == "",
			})
		}
		records = append(records, model.NewImportRecord(row, fields))
	}
	return records, nil
}

func init() {
	submitCmd.Flags().StringVar(&submitCSVPath, "csv", "", "path to CSV file (required)")
	submitCmd.Flags().StringVar(&submitTenant, "tenant", "default", "tenant identifier")
	submitCmd.Flags().BoolVar(&submitProcess, "process", false, "run the enhancement pipeline immediately")
	_ = submitCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(submitCmd)
}
