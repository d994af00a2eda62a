package ml

import (
	"fmt"
	"strings"
)

type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

type Report struct {
	Accuracy float64        `json:"accuracy"`
	Classes  []ClassMetrics `json:"classes"`
	Total    int            `json:"total"`
}

// Evaluate compares predicted against expected class indexes.
func Evaluate(expected, predicted []int, labels []string) (Report, error) {
	if len(expected) != len(predicted) {
		return Report{}, fmt.Errorf("evaluate: %d expected vs %d predicted", len(expected), len(predicted))
	}
	k := len(labels)
	tp := make([]int, k)
	predCount := make([]int, k)
	support := make([]int, k)
	correct := 0
	for i := range expected {
		e, p := expected[i], predicted[i]
		if e < 0 || e >= k || p < 0 || p >= k {
			return Report{}, fmt.Errorf("evaluate: class index out of range at row %d", i)
		}
		support[e]++
		predCount[p]++
		if e == p {
			tp[e]++
			correct++
		}
	}
	r := Report{Total: len(expected), Classes: make([]ClassMetrics, k)}
	if len(expected) > 0 {
		r.Accuracy = float64(correct) / float64(len(expected))
	}
	for c := 0; c < k; c++ {
		m := ClassMetrics{Label: labels[c], Support: support[c]}
		if predCount[c] > 0 {
			m.Precision = float64(tp[c]) / float64(predCount[c])
		}
		if support[c] > 0 {
			m.Recall = float64(tp[c]) / float64(support[c])
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes[c] = m
	}
	return r, nil
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %9s %9s %9s %9s\n", "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%-10s %9.2f %9.2f %9.2f %9d\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "%-10s %9s %9s %9.2f %9d\n", "accuracy", "", "", r.Accuracy, r.Total)
	return b.String()
}
