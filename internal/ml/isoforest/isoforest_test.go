package isoforest

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equipguard/internal/model"
)

func gaussian(n int, seed uint64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, 0))
	X := make([][]float64, n)
	for i := range X {
		X[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}
	return X
}

func TestFitFlagsContaminationFraction(t *testing.T) {
	X := gaussian(2000, 1)
	f, err := Fit(context.Background(), X, Options{Trees: 100, Contamination: 0.02, Seed: 42})
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	flagged := 0
	for _, x := range X {
		anomalous, err := f.Predict(x)
		require.NoError(t, err)
		if anomalous {
			flagged++
		}
	}
	frac := float64(flagged) / float64(len(X))
	assert.InDelta(t, 0.02, frac, 0.005)
}

func TestExtremePointIsAnomalous(t *testing.T) {
	X := gaussian(2000, 2)
	f, err := Fit(context.Background(), X, Options{Seed: 42})
	require.NoError(t, err)

	center, err := f.Score([]float64{0, 0, 0})
	require.NoError(t, err)
	far, err := f.Score([]float64{0, 15, 0})
	require.NoError(t, err)
	assert.Greater(t, far, center)

	anomalous, err := f.Predict([]float64{0, 15, 0})
	require.NoError(t, err)
	assert.True(t, anomalous)

	anomalous, err = f.Predict([]float64{0, 0, 0})
	require.NoError(t, err)
	assert.False(t, anomalous)
}

func TestFitDeterministic(t *testing.T) {
	X := gaussian(500, 3)
	a, err := Fit(context.Background(), X, Options{Trees: 20, Seed: 9, Workers: 1})
	require.NoError(t, err)
	b, err := Fit(context.Background(), X, Options{Trees: 20, Seed: 9, Workers: 6})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSampleSizeCappedByRows(t *testing.T) {
	X := gaussian(100, 4)
	f, err := Fit(context.Background(), X, Options{Trees: 5, MaxSamples: 256})
	require.NoError(t, err)
	assert.Equal(t, 100, f.SampleSize)
}

func TestScoreShapeMismatch(t *testing.T) {
	f, err := Fit(context.Background(), gaussian(50, 5), Options{Trees: 3})
	require.NoError(t, err)
	_, err = f.Score([]float64{1})
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))
}

func TestFitRejectsBadInput(t *testing.T) {
	_, err := Fit(context.Background(), nil, Options{})
	assert.True(t, errors.Is(err, model.ErrEmptyDataset))
	_, err = Fit(context.Background(), gaussian(10, 1), Options{Contamination: 0.7})
	assert.Error(t, err)
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	// c(256) from the isolation forest paper is about 10.24.
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}

func TestQuantile(t *testing.T) {
	v := []float64{4, 1, 3, 2, 5}
	assert.Equal(t, 3.0, quantile(v, 0.5))
	assert.InDelta(t, 4.6, quantile(v, 0.9), 1e-12)
	assert.Equal(t, 5.0, quantile(v, 1))
	assert.False(t, math.IsNaN(quantile([]float64{7}, 0.98)))
}
