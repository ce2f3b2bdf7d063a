package observability

import (
	"testing"
	"time"
)

func TestSLOSetTarget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "evaluate",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 24,
	})

	status, err := tracker.Status("evaluate")
	if err != nil {
		t.Fatal(err)
	}
	if !status.InCompliance {
		t.Fatal("expected compliance with no observations")
	}
}

func TestSLOInCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "provision",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{Operation: "provision", Latency: 100 * time.Millisecond, Success: true})
	}

	status, _ := tracker.Status("provision")
	if !status.InCompliance {
		t.Fatal("expected in compliance")
	}
	if status.CurrentSuccess != 1.0 {
		t.Fatalf("expected 100%% success rate, got %.2f", status.CurrentSuccess)
	}
}

func TestSLOOutOfCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "certify",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	// 90 success + 10 failures = 90%, below the 99% target
	for i := 0; i < 90; i++ {
		tracker.Record(SLOObservation{Operation: "certify", Latency: 100 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "certify", Latency: 100 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("certify")
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
}

func TestSLOBurnRate(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "submit",
		SuccessRate: 0.99, // 1% error budget
		LatencyP99:  1000 * time.Millisecond,
		WindowHours: 1,
	})

	// 5% error rate burns the budget at 5x
	for i := 0; i < 95; i++ {
		tracker.Record(SLOObservation{Operation: "submit", Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(SLOObservation{Operation: "submit", Latency: 10 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("submit")
	if status.BurnRate < 4.0 {
		t.Fatalf("expected high burn rate, got %.2f", status.BurnRate)
	}
}

func TestSLOWindowExcludesOldObservations(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "sweep",
		LatencyP99:  time.Second,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	tracker.Record(SLOObservation{Operation: "sweep", Latency: time.Millisecond, Success: false, Timestamp: now.Add(-2 * time.Hour)})
	tracker.Record(SLOObservation{Operation: "sweep", Latency: time.Millisecond, Success: true, Timestamp: now.Add(-time.Minute)})

	status, err := tracker.Status("sweep")
	if err != nil {
		t.Fatal(err)
	}
	if status.ObservationCount != 1 {
		t.Fatalf("expected 1 windowed observation, got %d", status.ObservationCount)
	}
	if !status.InCompliance {
		t.Fatal("old failure should not count against the window")
	}
}

func TestSLONoTarget(t *testing.T) {
	tracker := NewSLOTracker()
	if _, err := tracker.Status("nonexistent"); err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestDefaultTargetsCoverPipeline(t *testing.T) {
	tracker := NewSLOTracker()
	for _, target := range DefaultTargets() {
		tracker.SetTarget(target)
	}
	for _, op := range []string{"evaluate", "submit", "approve", "provision", "certify", "sweep"} {
		if _, err := tracker.Status(op); err != nil {
			t.Fatalf("missing default target for %s: %v", op, err)
		}
	}
}
