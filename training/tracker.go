package training

import (
	"github.com/pkg/errors"
)

// Objective names the validation metric used for model selection.
type Objective string

const (
	ObjectiveLoss     Objective = "loss"
	ObjectiveAccuracy Objective = "accuracy"
	ObjectiveF1       Objective = "f1"
)

// ParseObjective validates an objective name. Unknown names are a fatal
// configuration error.
func ParseObjective(s string) (Objective, error) {
	switch Objective(s) {
	case ObjectiveLoss, ObjectiveAccuracy, ObjectiveF1:
		return Objective(s), nil
	default:
		return "", errors.Errorf("unimplemented optimize objective: %q", s)
	}
}

// Value orients the epoch's validation metrics for a unified "maximize"
// comparison: loss is negated, accuracy and F1 pass through.
func (o Objective) Value(loss, accuracy, f1 float64) float64 {
	switch o {
	case ObjectiveLoss:
		return -loss
	case ObjectiveAccuracy:
		return accuracy
	default:
		return f1
	}
}

// ObjectiveTracker maintains the best-seen validation objective across
// epochs and drives the checkpoint-save and early-stopping decisions. A
// value matching the best counts as an improvement and resets the stall
// counter; only strictly worse epochs increment it.
type ObjectiveTracker struct {
	patience   int
	bestValue  float64
	bestEpoch  int
	hasBest    bool
	stallCount int
}

// NewObjectiveTracker creates a tracker with the given early-stopping
// patience.
func NewObjectiveTracker(patience int) *ObjectiveTracker {
	return &ObjectiveTracker{patience: patience}
}

// Observe feeds one epoch's oriented objective value and reports whether the
// epoch is a new best, i.e. whether a checkpoint must be saved.
func (t *ObjectiveTracker) Observe(epoch int, value float64) bool {
	if !t.hasBest || value >= t.bestValue {
		t.bestValue = value
		t.bestEpoch = epoch
		t.hasBest = true
		t.stallCount = 0
		return true
	}
	t.stallCount++
	return false
}

// ShouldStop reports whether the stall counter has reached the patience.
func (t *ObjectiveTracker) ShouldStop() bool {
	return t.stallCount >= t.patience
}

// Best returns the best epoch and oriented value seen so far.
func (t *ObjectiveTracker) Best() (epoch int, value float64, ok bool) {
	return t.bestEpoch, t.bestValue, t.hasBest
}

// StallCount returns the consecutive non-improving epoch count.
func (t *ObjectiveTracker) StallCount() int {
	return t.stallCount
}
