package forest

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

type builder struct {
	X       [][]float64
	y       []int
	classes int
	opts    Options
	rng     *rand.Rand

	nodes   []Node
	scratch []int
	left    []int
}

func (b *builder) grow() Tree {
	n := len(b.X)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = b.rng.IntN(n)
	}
	b.nodes = make([]Node, 0, 256)
	b.scratch = make([]int, n)
	b.left = make([]int, b.classes)
	b.split(idx, 0)
	return Tree{Nodes: b.nodes}
}

// split appends the subtree for idx and returns its root. Children are
// always appended after their parent.
func (b *builder) split(idx []int, depth int) int32 {
	counts := b.count(idx)
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Feature: leaf, Class: argmax(counts)})

	if pure(counts) || len(idx) < b.opts.MinSamplesSplit {
		return id
	}
	if b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth {
		return id
	}
	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return id
	}
	k := partition(b.X, idx, feature, threshold)
	l := b.split(idx[:k], depth+1)
	r := b.split(idx[k:], depth+1)
	b.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return id
}

func (b *builder) count(idx []int) []int {
	counts := make([]int, b.classes)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	return counts
}

// bestSplit draws candidate features in random order and evaluates
// MaxFeatures non-constant ones, maximizing the Gini gain.
func (b *builder) bestSplit(idx []int, total []int) (int, float64, bool) {
	bestScore := -1.0
	bestFeature := leaf
	var bestThreshold float64

	visited := 0
	for _, f := range b.rng.Perm(len(b.X[0])) {
		if visited >= b.opts.MaxFeatures {
			break
		}
		s := b.scratch[:len(idx)]
		copy(s, idx)
		slices.SortFunc(s, func(a, c int) int {
			return cmp.Compare(b.X[a][f], b.X[c][f])
		})
		if b.X[s[0]][f] == b.X[s[len(s)-1]][f] {
			continue
		}
		visited++

		clear(b.left)
		n := len(s)
		for k := 0; k < n-1; k++ {
			b.left[b.y[s[k]]]++
			v, next := b.X[s[k]][f], b.X[s[k+1]][f]
			if v == next {
				continue
			}
			nl := k + 1
			nr := n - nl
			var sl, sr float64
			for c, cl := range b.left {
				cr := total[c] - cl
				sl += float64(cl * cl)
				sr += float64(cr * cr)
			}
			score := sl/float64(nl) + sr/float64(nr)
			if score > bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = v + (next-v)/2
				if bestThreshold >= next {
					bestThreshold = v
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature != leaf
}

// partition reorders idx so rows with x[feature] <= threshold come first and
// returns their count.
func partition(X [][]float64, idx []int, feature int, threshold float64) int {
	k := 0
	for i := range idx {
		if X[idx[i]][feature] <= threshold {
			idx[k], idx[i] = idx[i], idx[k]
			k++
		}
	}
	return k
}

func argmax(counts []int) int {
	best := 0
	for c := 1; c < len(counts); c++ {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func pure(counts []int) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}
