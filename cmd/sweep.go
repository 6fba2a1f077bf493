package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/staging"
)

var sweepDaemon bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale batches and purge batches past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		sweeper := staging.NewSweeper(e.manager)

		if sweepDaemon {
			zap.L().Info("sweeper running", zap.Duration("interval", cfg.Staging.SweepInterval()))
			if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
				return eris.Wrap(err, "sweeper")
			}
			return nil
		}

		return sweeper.Sweep(ctx)
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDaemon, "daemon", false, "run continuously on the configured interval")
	rootCmd.AddCommand(sweepCmd)
}
