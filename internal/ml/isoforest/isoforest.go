// Package isoforest implements an isolation forest anomaly detector.
//
// Each tree recursively cuts a subsample on a random feature at a random
// value. Points that are isolated after few cuts are unusual. The anomaly
// score is 2^(-E[h(x)]/c(psi)), in (0, 1], and the decision threshold is the
// score quantile that flags the contamination fraction of the fit data.
package isoforest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"equipguard/internal/ml"
	"equipguard/internal/model"
)

const eulerGamma = 0.5772156649015329

type Options struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          uint64
	Workers       int
}

func (o Options) withDefaults() Options {
	if o.Trees <= 0 {
		o.Trees = 100
	}
	if o.MaxSamples <= 0 {
		o.MaxSamples = 256
	}
	if o.Contamination <= 0 {
		o.Contamination = 0.02
	}
	return o
}

const external = -1

type Node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s,omitempty"`
	Left    int32   `json:"l,omitempty"`
	Right   int32   `json:"r,omitempty"`
	Size    int     `json:"n,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

type Forest struct {
	NumFeatures   int     `json:"num_features"`
	SampleSize    int     `json:"sample_size"`
	Contamination float64 `json:"contamination"`
	Threshold     float64 `json:"threshold"`
	Trees         []Tree  `json:"trees"`
}

func Fit(ctx context.Context, X [][]float64, opts Options) (*Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("isolation forest fit: %w", model.ErrEmptyDataset)
	}
	opts = opts.withDefaults()
	if opts.Contamination > 0.5 {
		return nil, fmt.Errorf("isolation forest fit: contamination must be in (0, 0.5], got %v", opts.Contamination)
	}
	p := len(X[0])
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("isolation forest fit: %w: row %d has %d features, want %d", model.ErrShapeMismatch, i, len(row), p)
		}
	}
	psi := min(opts.MaxSamples, len(X))
	limit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	f := &Forest{
		NumFeatures:   p,
		SampleSize:    psi,
		Contamination: opts.Contamination,
		Trees:         make([]Tree, opts.Trees),
	}
	err := ml.Build(ctx, opts.Trees, opts.Workers, func(_ context.Context, i int) error {
		rng := rand.New(rand.NewPCG(opts.Seed, ml.MemberSeed(i)))
		sample := rng.Perm(len(X))[:psi]
		b := &builder{X: X, rng: rng, limit: limit}
		b.isolate(sample, 0)
		f.Trees[i] = Tree{Nodes: b.nodes}
		return nil
	})
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(X))
	for i, row := range X {
		scores[i] = f.score(row)
	}
	f.Threshold = quantile(scores, 1-opts.Contamination)
	return f, nil
}

// Score returns the anomaly score of x; higher is more anomalous.
func (f *Forest) Score(x []float64) (float64, error) {
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("%w: got %d features, want %d", model.ErrShapeMismatch, len(x), f.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return 0, errors.New("isolation forest has no trees")
	}
	return f.score(x), nil
}

// Predict reports whether x is an anomaly under the fitted threshold.
func (f *Forest) Predict(x []float64) (bool, error) {
	s, err := f.Score(x)
	if err != nil {
		return false, err
	}
	return s > f.Threshold, nil
}

func (f *Forest) score(x []float64) float64 {
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

func (t *Tree) pathLength(x []float64) float64 {
	i := 0
	depth := 0.0
	for {
		n := &t.Nodes[i]
		if n.Feature == external {
			return depth + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Split {
			i = int(n.Left)
		} else {
			i = int(n.Right)
		}
		depth++
	}
}

func (f *Forest) Validate() error {
	if f.NumFeatures <= 0 || f.SampleSize <= 0 || len(f.Trees) == 0 {
		return errors.New("isolation forest: empty or malformed model")
	}
	if math.IsNaN(f.Threshold) || f.Threshold <= 0 || f.Threshold > 1 {
		return fmt.Errorf("isolation forest: threshold %v out of range", f.Threshold)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("isolation forest: tree %d has no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature == external {
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NumFeatures {
				return fmt.Errorf("isolation forest: tree %d node %d splits on feature %d", ti, ni, n.Feature)
			}
			if int(n.Left) <= ni || int(n.Right) <= ni || int(n.Left) >= len(t.Nodes) || int(n.Right) >= len(t.Nodes) {
				return fmt.Errorf("isolation forest: tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}

type builder struct {
	X     [][]float64
	rng   *rand.Rand
	limit int
	nodes []Node
}

func (b *builder) isolate(idx []int, depth int) int32 {
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Feature: external, Size: len(idx)})
	if depth >= b.limit || len(idx) <= 1 {
		return id
	}
	for _, f := range b.rng.Perm(len(b.X[0])) {
		lo, hi := b.X[idx[0]][f], b.X[idx[0]][f]
		for _, i := range idx[1:] {
			v := b.X[i][f]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if lo == hi {
			continue
		}
		split := lo + b.rng.Float64()*(hi-lo)
		k := 0
		for i := range idx {
			if b.X[idx[i]][f] < split {
				idx[k], idx[i] = idx[i], idx[k]
				k++
			}
		}
		if k == 0 || k == len(idx) {
			return id
		}
		l := b.isolate(idx[:k], depth+1)
		r := b.isolate(idx[k:], depth+1)
		b.nodes[id] = Node{Feature: f, Split: split, Left: l, Right: r}
		return id
	}
	return id
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// quantile uses linear interpolation between closest ranks.
func quantile(values []float64, q float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}
