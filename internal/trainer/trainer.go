// Package trainer fits the scaler, status classifier and anomaly detector
// on a labeled dataset and persists them as one artifact set.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"equipguard/internal/artifact"
	"equipguard/internal/config"
	"equipguard/internal/dataset"
	"equipguard/internal/ml"
	"equipguard/internal/ml/forest"
	"equipguard/internal/ml/isoforest"
	"equipguard/internal/model"
	"equipguard/internal/scaler"
)

type Result struct {
	Bundle            *artifact.Bundle
	Report            ml.Report
	TrainRows         int
	TestRows          int
	DetectedAnomalies int
	Elapsed           time.Duration
}

// Train fits all three artifacts. It does not persist anything.
func Train(ctx context.Context, cfg config.TrainingConfig, readings []model.SensorReading, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(readings) == 0 {
		return nil, model.ErrEmptyDataset
	}
	start := time.Now()
	X, y := dataset.Features(readings)

	sc, err := scaler.Fit(X)
	if err != nil {
		return nil, err
	}
	scaled := sc.TransformAll(X)
	logger.Info("scaler fit", "rows", len(X), "mean", sc.Mean, "stddev", sc.StdDev)

	iso, err := isoforest.Fit(ctx, scaled, isoforest.Options{
		Trees:         cfg.Detector.Trees,
		MaxSamples:    cfg.Detector.MaxSamples,
		Contamination: cfg.Detector.Contamination,
		Seed:          cfg.Seed,
		Workers:       cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("fit detector: %w", err)
	}
	flagged := 0
	for _, row := range scaled {
		anomalous, err := iso.Predict(row)
		if err != nil {
			return nil, err
		}
		if anomalous {
			flagged++
		}
	}
	logger.Info("detector fit", "trees", len(iso.Trees), "threshold", iso.Threshold, "flagged", flagged)

	trainIdx, testIdx, err := ml.TrainTestSplit(len(scaled), cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	trainX, trainY := pick(scaled, y, trainIdx)
	rf, err := forest.Fit(ctx, trainX, trainY, model.NumStatuses, forest.Options{
		Trees:           cfg.Classifier.Trees,
		MaxDepth:        cfg.Classifier.MaxDepth,
		MinSamplesSplit: cfg.Classifier.MinSamplesSplit,
		Seed:            cfg.Seed,
		Workers:         cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("fit classifier: %w", err)
	}

	testX, testY := pick(scaled, y, testIdx)
	predicted := make([]int, len(testX))
	for i, row := range testX {
		if predicted[i], err = rf.Predict(row); err != nil {
			return nil, err
		}
	}
	report, err := ml.Evaluate(testY, predicted, statusLabels())
	if err != nil {
		return nil, err
	}
	logger.Info("classifier fit", "trees", len(rf.Trees), "train_rows", len(trainX), "test_rows", len(testX), "accuracy", report.Accuracy)

	return &Result{
		Bundle: &artifact.Bundle{
			Scaler:      sc,
			Classifier:  &artifact.StatusClassifier{Forest: rf},
			Detector:    &artifact.AnomalyDetector{Forest: iso},
			Fingerprint: scaler.Fingerprint(X),
			CreatedAt:   time.Now().UTC(),
		},
		Report:            report,
		TrainRows:         len(trainX),
		TestRows:          len(testX),
		DetectedAnomalies: flagged,
		Elapsed:           time.Since(start),
	}, nil
}

// Run reads the configured dataset, trains, and saves the artifact set.
func Run(ctx context.Context, cfg config.TrainingConfig, store artifact.Saver, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	readings, err := dataset.ReadCSVFile(cfg.DatasetPath)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset loaded", "path", cfg.DatasetPath, "rows", len(readings))
	res, err := Train(ctx, cfg, readings, logger)
	if err != nil {
		return nil, err
	}
	if err := artifact.Save(ctx, store, res.Bundle); err != nil {
		return nil, fmt.Errorf("save artifacts: %w", err)
	}
	logger.Info("artifacts saved", "fingerprint", res.Bundle.Fingerprint, "elapsed", res.Elapsed)
	return res, nil
}

func pick(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	px := make([][]float64, len(idx))
	py := make([]int, len(idx))
	for i, j := range idx {
		px[i] = X[j]
		py[i] = y[j]
	}
	return px, py
}

func statusLabels() []string {
	labels := make([]string, model.NumStatuses)
	for i := range labels {
		labels[i] = model.Status(i).String()
	}
	return labels
}
