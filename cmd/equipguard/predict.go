package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"equipguard/internal/engine"
	"equipguard/internal/model"
)

func newPredictCommand(root *rootOptions) *cobra.Command {
	var req model.ScoreRequest
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score one reading with the trained models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, logger, err := root.load()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			models, err := loadModels(context.Background(), cfg.ModelStore, logger)
			if err != nil {
				return fmt.Errorf("%w: %w", model.ErrModelsNotReady, err)
			}
			res, err := engine.Score(req.Features(), models.Scaler, models.Classifier, models.Detector)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(model.ScoreResponse{Input: req, Prediction: res})
		},
	}
	cmd.Flags().Float64Var(&req.Temperature, "temperature", 0, "temperature reading")
	cmd.Flags().Float64Var(&req.Vibration, "vibration", 0, "vibration reading")
	cmd.Flags().Float64Var(&req.Voltage, "voltage", 0, "voltage reading")
	for _, name := range []string{"temperature", "vibration", "voltage"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
