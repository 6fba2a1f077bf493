package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/model"
)

var masterJSONPath string

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Manage master data",
}

var masterLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Upsert master entities from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(masterJSONPath)
		if err != nil {
			return eris.Wrapf(err, "read master file %s", masterJSONPath)
		}
		var entities []model.MasterEntity
		if err := json.Unmarshal(data, &entities); err != nil {
			return eris.Wrapf(err, "parse master file %s", masterJSONPath)
		}
		if len(entities) == 0 {
			return eris.Errorf("master file %s contains no entities", masterJSONPath)
		}
		for _, e := range entities {
			if e.ID == "" || e.EntityType == "" || e.Name == "" {
				return eris.Errorf("master entity missing id, entity_type or name: %+v", e)
			}
		}

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.UpsertMasterEntities(ctx, entities); err != nil {
			return eris.Wrap(err, "upsert master entities")
		}
		zap.L().Info("master entities loaded",
			zap.Int("count", len(entities)),
			zap.String("file", masterJSONPath),
		)
		return nil
	},
}

func init() {
	masterLoadCmd.Flags().StringVar(&masterJSONPath, "json", "", "path to master entities JSON file (required)")
	_ = masterLoadCmd.MarkFlagRequired("json")
	masterCmd.AddCommand(masterLoadCmd)
	rootCmd.AddCommand(masterCmd)
}
