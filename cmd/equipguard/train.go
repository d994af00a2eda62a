package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"equipguard/internal/modelstore"
	"equipguard/internal/trainer"
)

func newTrainCommand(root *rootOptions) *cobra.Command {
	var (
		datasetPath string
		workers     int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the scaler, status classifier and anomaly detector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, logger, err := root.load()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			tc := cfg.Training
			if datasetPath != "" {
				tc.DatasetPath = datasetPath
			}
			if cmd.Flags().Changed("workers") {
				tc.Workers = workers
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := modelstore.New(ctx, cfg.ModelStore)
			if err != nil {
				return fmt.Errorf("open model store: %w", err)
			}
			defer store.Close()

			res, err := trainer.Run(ctx, tc, store, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "classifier accuracy on %d held-out rows: %.4f\n", res.TestRows, res.Report.Accuracy)
			fmt.Fprint(out, res.Report.String())
			fmt.Fprintf(out, "detector flagged %d of %d training rows\n", res.DetectedAnomalies, res.TrainRows+res.TestRows)
			return nil
		},
	}
	cmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "CSV dataset path (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel tree builders, 0 uses all CPUs")
	return cmd
}
