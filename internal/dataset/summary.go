package dataset

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"equipguard/internal/model"
)

// SpikeThreshold marks vibration readings that stand out as shocks.
const SpikeThreshold = 50.0

type FeatureStats struct {
	Min    float64 `json:"min"`
	Mean   float64 `json:"mean"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
}

type Summary struct {
	Rows            int                     `json:"rows"`
	From            time.Time               `json:"from"`
	To              time.Time               `json:"to"`
	ByStatus        map[string]int          `json:"by_status"`
	Features        map[string]FeatureStats `json:"features"`
	VibrationSpikes int                     `json:"vibration_spikes"`
	FirstCritical   int                     `json:"first_critical"`
	FirstWarning    int                     `json:"first_warning"`
}

func Summarize(readings []model.SensorReading) (Summary, error) {
	if len(readings) == 0 {
		return Summary{}, model.ErrEmptyDataset
	}
	s := Summary{
		Rows:          len(readings),
		From:          readings[0].Timestamp,
		To:            readings[len(readings)-1].Timestamp,
		ByStatus:      make(map[string]int, model.NumStatuses),
		Features:      make(map[string]FeatureStats, model.NumFeatures),
		FirstCritical: -1,
		FirstWarning:  -1,
	}
	for st := model.StatusHealthy; st <= model.StatusCritical; st++ {
		s.ByStatus[st.String()] = 0
	}
	cols := make([][]float64, model.NumFeatures)
	for i, r := range readings {
		s.ByStatus[r.Status.String()]++
		switch r.Status {
		case model.StatusCritical:
			if s.FirstCritical < 0 {
				s.FirstCritical = i
			}
		case model.StatusWarning:
			if s.FirstWarning < 0 {
				s.FirstWarning = i
			}
		case model.StatusHealthy:
		}
		if r.Vibration > SpikeThreshold {
			s.VibrationSpikes++
		}
		fv := r.Features()
		for j := range cols {
			cols[j] = append(cols[j], fv[j])
		}
	}
	for j, name := range model.FeatureOrder {
		mean, std := stat.MeanStdDev(cols[j], nil)
		s.Features[name] = FeatureStats{
			Min:    floats.Min(cols[j]),
			Mean:   mean,
			Max:    floats.Max(cols[j]),
			StdDev: std,
		}
	}
	return s, nil
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rows: %d (%s .. %s)\n", s.Rows, s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))
	b.WriteString("class distribution:\n")
	for st := model.StatusHealthy; st <= model.StatusCritical; st++ {
		n := s.ByStatus[st.String()]
		fmt.Fprintf(&b, "  %-9s %6d  %6.2f%%\n", st, n, 100*float64(n)/float64(s.Rows))
	}
	b.WriteString("features:\n")
	for _, name := range model.FeatureOrder {
		f := s.Features[name]
		fmt.Fprintf(&b, "  %-12s min=%8.2f mean=%8.2f max=%8.2f std=%7.2f\n", name, f.Min, f.Mean, f.Max, f.StdDev)
	}
	fmt.Fprintf(&b, "vibration spikes (> %.0f): %d\n", SpikeThreshold, s.VibrationSpikes)
	if s.FirstWarning >= 0 {
		fmt.Fprintf(&b, "first warning at row %d\n", s.FirstWarning)
	}
	if s.FirstCritical >= 0 {
		fmt.Fprintf(&b, "first critical at row %d\n", s.FirstCritical)
	}
	return b.String()
}
