package metrics

import (
	"testing"

	"equipguard/internal/model"
)

func TestRecordAccumulates(t *testing.T) {
	s := NewStore(10)
	s.Record(model.Prediction{MachineID: "M-001", Result: model.PredictionResult{Status: model.StatusHealthy}})
	s.Record(model.Prediction{
		MachineID: "M-001",
		Features:  model.FeatureVector{95, 12, 220},
		Result:    model.PredictionResult{Status: model.StatusCritical, IsAnomaly: true},
	})

	st, updated, ok := s.Get("M-001")
	if !ok || updated.IsZero() {
		t.Fatalf("expected stats for M-001")
	}
	if st.Predictions != 2 || st.Anomalies != 1 {
		t.Fatalf("unexpected counters %+v", st)
	}
	if st.ByStatus["Healthy"] != 1 || st.ByStatus["Critical"] != 1 {
		t.Fatalf("unexpected status counts %v", st.ByStatus)
	}
	if st.Last.Status != model.StatusCritical || st.LastInput[0] != 95 {
		t.Fatalf("unexpected last prediction %+v", st)
	}

	// snapshots are detached from the store
	st.ByStatus["Healthy"] = 99
	again, _, _ := s.Get("M-001")
	if again.ByStatus["Healthy"] != 1 {
		t.Fatalf("snapshot aliased store state")
	}
}

func TestEvictsBeyondLimit(t *testing.T) {
	s := NewStore(2)
	for _, id := range []string{"M-001", "M-002", "M-003"} {
		s.Record(model.Prediction{MachineID: id})
	}
	if n := len(s.GetAll()); n != 2 {
		t.Fatalf("expected 2 machines after eviction, got %d", n)
	}
	s.Record(model.Prediction{})
	if n := len(s.GetAll()); n != 2 {
		t.Fatalf("prediction without machine id should be ignored")
	}
}
