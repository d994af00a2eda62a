// Package scaler standardizes feature vectors. Parameters are fit once on the
// training dataset and reused unchanged at inference time.
//
// The standard deviation uses the population formula (divide by N), both when
// fitting and when checking the fitted data.
package scaler

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"equipguard/internal/model"
)

// minStdDev guards against features whose spread is numerically zero.
const minStdDev = 1e-12

type Params struct {
	Mean   model.FeatureVector `json:"mean"`
	StdDev model.FeatureVector `json:"stddev"`
}

func Fit(dataset []model.FeatureVector) (Params, error) {
	var p Params
	if len(dataset) == 0 {
		return p, fmt.Errorf("scaler fit: %w", model.ErrEmptyDataset)
	}
	column := make([]float64, len(dataset))
	for j := 0; j < model.NumFeatures; j++ {
		for i, fv := range dataset {
			column[i] = fv[j]
		}
		mean, variance := stat.PopMeanVariance(column, nil)
		std := math.Sqrt(variance)
		if math.IsNaN(std) || std < minStdDev {
			return p, fmt.Errorf("scaler fit: %w: feature %q has zero variance", model.ErrDegenerateScaler, model.FeatureOrder[j])
		}
		p.Mean[j] = mean
		p.StdDev[j] = std
	}
	return p, nil
}

func (p Params) Transform(fv model.FeatureVector) model.FeatureVector {
	var out model.FeatureVector
	for j := range fv {
		out[j] = (fv[j] - p.Mean[j]) / p.StdDev[j]
	}
	return out
}

func (p Params) TransformAll(dataset []model.FeatureVector) [][]float64 {
	out := make([][]float64, len(dataset))
	for i, fv := range dataset {
		t := p.Transform(fv)
		out[i] = t[:]
	}
	return out
}

func (p Params) Validate() error {
	for j := 0; j < model.NumFeatures; j++ {
		if math.IsNaN(p.Mean[j]) || math.IsInf(p.Mean[j], 0) {
			return fmt.Errorf("%w: mean of %q is not finite", model.ErrDegenerateScaler, model.FeatureOrder[j])
		}
		if !(p.StdDev[j] >= minStdDev) || math.IsInf(p.StdDev[j], 0) {
			return fmt.Errorf("%w: stddev of %q is %v", model.ErrDegenerateScaler, model.FeatureOrder[j], p.StdDev[j])
		}
	}
	return nil
}

// Fingerprint identifies a dataset by content. Artifacts trained on the same
// dataset carry the same fingerprint.
func Fingerprint(dataset []model.FeatureVector) string {
	h := sha256.New()
	var buf [8]byte
	for _, fv := range dataset {
		for _, v := range fv {
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
