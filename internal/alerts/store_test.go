package alerts

import (
	"testing"
	"time"

	"equipguard/internal/model"
)

func alertAt(i int, machine string) model.Alert {
	return model.Alert{
		ID:        string(rune('a' + i)),
		Timestamp: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		MachineID: machine,
	}
}

func TestRingKeepsNewest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(alertAt(i, "M-001"))
	}
	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(got))
	}
	for i, want := range []string{"c", "d", "e"} {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
	if last := s.List(1); len(last) != 1 || last[0].ID != "e" {
		t.Fatalf("expected newest alert, got %+v", last)
	}
}

func TestSinceAndForMachine(t *testing.T) {
	s := NewStore(10)
	s.Add(alertAt(0, "M-001"))
	s.Add(alertAt(1, "M-002"))
	s.Add(alertAt(2, "M-001"))

	since := s.Since(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC))
	if len(since) != 2 {
		t.Fatalf("expected 2 alerts since t=1, got %d", len(since))
	}
	m1 := s.ForMachine("M-001", 0)
	if len(m1) != 2 || m1[1].ID != "c" {
		t.Fatalf("unexpected machine alerts %+v", m1)
	}
	if got := s.ForMachine("M-001", 1); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("expected newest machine alert, got %+v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store after clear")
	}
}
