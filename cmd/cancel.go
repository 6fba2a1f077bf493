package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <batch-id>",
	Short: "Cancel a non-terminal batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.manager.Cancel(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "cancel batch %s", args[0])
		}
		zap.L().Info("batch cancelled", zap.String("batch", args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
