package model

import "errors"

var (
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrEmptyDataset     = errors.New("empty dataset")
	ErrModelsNotReady   = errors.New("models not ready")
	ErrShapeMismatch    = errors.New("feature shape mismatch")
	ErrDegenerateScaler = errors.New("degenerate scaler")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactMismatch = errors.New("artifact mismatch")
)
