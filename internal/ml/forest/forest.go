// Package forest implements a random forest classifier: bootstrap-sampled
// CART trees split on Gini impurity, aggregated by majority vote.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"equipguard/internal/ml"
	"equipguard/internal/model"
)

type Options struct {
	Trees           int
	MaxDepth        int // 0 grows trees until leaves are pure
	MinSamplesSplit int
	MaxFeatures     int // 0 uses floor(sqrt(features))
	Seed            uint64
	Workers         int
}

func (o Options) withDefaults(numFeatures int) Options {
	if o.Trees <= 0 {
		o.Trees = 100
	}
	if o.MinSamplesSplit < 2 {
		o.MinSamplesSplit = 2
	}
	if o.MaxFeatures <= 0 || o.MaxFeatures > numFeatures {
		o.MaxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(numFeatures)))))
	}
	return o
}

const leaf = -1

// Node is a flattened tree node. Feature is leaf for terminal nodes.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int32   `json:"l,omitempty"`
	Right     int32   `json:"r,omitempty"`
	Class     int     `json:"c,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

type Forest struct {
	NumFeatures int    `json:"num_features"`
	NumClasses  int    `json:"num_classes"`
	Trees       []Tree `json:"trees"`
}

func Fit(ctx context.Context, X [][]float64, y []int, numClasses int, opts Options) (*Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("forest fit: %w", model.ErrEmptyDataset)
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("forest fit: %d rows but %d labels", len(X), len(y))
	}
	if numClasses < 2 {
		return nil, errors.New("forest fit: need at least two classes")
	}
	p := len(X[0])
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("forest fit: %w: row %d has %d features, want %d", model.ErrShapeMismatch, i, len(row), p)
		}
		if y[i] < 0 || y[i] >= numClasses {
			return nil, fmt.Errorf("forest fit: label %d out of range at row %d", y[i], i)
		}
	}
	opts = opts.withDefaults(p)

	f := &Forest{NumFeatures: p, NumClasses: numClasses, Trees: make([]Tree, opts.Trees)}
	err := ml.Build(ctx, opts.Trees, opts.Workers, func(_ context.Context, i int) error {
		b := &builder{
			X:       X,
			y:       y,
			classes: numClasses,
			opts:    opts,
			rng:     rand.New(rand.NewPCG(opts.Seed, ml.MemberSeed(i))),
		}
		f.Trees[i] = b.grow()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Predict returns the class chosen by most trees; ties go to the lower class.
func (f *Forest) Predict(x []float64) (int, error) {
	votes, err := f.Votes(x)
	if err != nil {
		return 0, err
	}
	best := 0
	for c := 1; c < len(votes); c++ {
		if votes[c] > votes[best] {
			best = c
		}
	}
	return best, nil
}

func (f *Forest) Votes(x []float64) ([]int, error) {
	if len(x) != f.NumFeatures {
		return nil, fmt.Errorf("%w: got %d features, want %d", model.ErrShapeMismatch, len(x), f.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	votes := make([]int, f.NumClasses)
	for i := range f.Trees {
		c := f.Trees[i].predict(x)
		if c >= 0 && c < f.NumClasses {
			votes[c]++
		}
	}
	return votes, nil
}

func (t *Tree) predict(x []float64) int {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature == leaf {
			return n.Class
		}
		if x[n.Feature] <= n.Threshold {
			i = int(n.Left)
		} else {
			i = int(n.Right)
		}
	}
}

// Validate checks the structural integrity of a decoded forest.
func (f *Forest) Validate() error {
	if f.NumFeatures <= 0 || f.NumClasses < 2 || len(f.Trees) == 0 {
		return errors.New("forest: empty or malformed model")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("forest: tree %d has no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature == leaf {
				if n.Class < 0 || n.Class >= f.NumClasses {
					return fmt.Errorf("forest: tree %d node %d has class %d", ti, ni, n.Class)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NumFeatures {
				return fmt.Errorf("forest: tree %d node %d splits on feature %d", ti, ni, n.Feature)
			}
			if int(n.Left) <= ni || int(n.Right) <= ni || int(n.Left) >= len(t.Nodes) || int(n.Right) >= len(t.Nodes) {
				return fmt.Errorf("forest: tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}
