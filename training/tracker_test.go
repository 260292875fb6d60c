package training

import (
	"math"
	"testing"
)

func TestParseObjective(t *testing.T) {
	for _, name := range []string{"loss", "accuracy", "f1"} {
		if _, err := ParseObjective(name); err != nil {
			t.Errorf("ParseObjective(%q) returned error: %v", name, err)
		}
	}
	if _, err := ParseObjective("auroc"); err == nil {
		t.Error("expected error for unknown objective")
	}
}

func TestObjectiveValueOrientation(t *testing.T) {
	tests := []struct {
		objective Objective
		expected  float64
	}{
		{ObjectiveLoss, -0.7},
		{ObjectiveAccuracy, 0.8},
		{ObjectiveF1, 0.75},
	}
	for _, tt := range tests {
		got := tt.objective.Value(0.7, 0.8, 0.75)
		if math.Abs(got-tt.expected) > 1e-12 {
			t.Errorf("%s.Value = %g, want %g", tt.objective, got, tt.expected)
		}
	}
}

func TestObjectiveTrackerTrace(t *testing.T) {
	values := []float64{0.5, 0.6, 0.4, 0.6, 0.61}
	wantSave := []bool{true, true, false, true, true}
	wantBestEpoch := []int{0, 1, 1, 3, 4}
	wantStall := []int{0, 0, 1, 0, 0}

	tracker := NewObjectiveTracker(2)
	for epoch, value := range values {
		save := tracker.Observe(epoch, value)
		if save != wantSave[epoch] {
			t.Errorf("epoch %d: Observe = %v, want %v", epoch, save, wantSave[epoch])
		}
		bestEpoch, _, ok := tracker.Best()
		if !ok {
			t.Fatalf("epoch %d: tracker has no best", epoch)
		}
		if bestEpoch != wantBestEpoch[epoch] {
			t.Errorf("epoch %d: best epoch = %d, want %d", epoch, bestEpoch, wantBestEpoch[epoch])
		}
		if tracker.StallCount() != wantStall[epoch] {
			t.Errorf("epoch %d: stall = %d, want %d", epoch, tracker.StallCount(), wantStall[epoch])
		}
		if tracker.ShouldStop() {
			t.Errorf("epoch %d: unexpected early stop", epoch)
		}
	}

	_, bestValue, _ := tracker.Best()
	if bestValue != 0.61 {
		t.Errorf("best value = %g, want 0.61", bestValue)
	}
}

func TestObjectiveTrackerEarlyStop(t *testing.T) {
	tracker := NewObjectiveTracker(2)
	tracker.Observe(0, 0.9)
	tracker.Observe(1, 0.5)
	if tracker.ShouldStop() {
		t.Fatal("should not stop after one stall epoch")
	}
	tracker.Observe(2, 0.4)
	if !tracker.ShouldStop() {
		t.Fatal("expected early stop after two stall epochs")
	}
}
