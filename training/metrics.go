package training

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

// ConfusionMatrix accumulates classification outcomes as
// [true class][predicted class] counts.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int
	TotalSamples int
}

// NewConfusionMatrix creates an empty confusion matrix.
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{NumClasses: numClasses, Matrix: matrix}
}

// Reset clears all counts.
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update records one batch of predicted and true labels.
func (cm *ConfusionMatrix) Update(predicted, trueLabels []int32) error {
	if len(predicted) != len(trueLabels) {
		return errors.Errorf("prediction count %d does not match label count %d", len(predicted), len(trueLabels))
	}
	for i := range predicted {
		p, l := int(predicted[i]), int(trueLabels[i])
		if p < 0 || p >= cm.NumClasses {
			return errors.Errorf("predicted class %d out of range [0, %d)", p, cm.NumClasses)
		}
		if l < 0 || l >= cm.NumClasses {
			return errors.Errorf("true class %d out of range [0, %d)", l, cm.NumClasses)
		}
		cm.Matrix[l][p]++
		cm.TotalSamples++
	}
	return nil
}

// Accuracy returns the fraction of correctly classified samples.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// MacroF1 returns the unweighted mean of per-class F1 scores. Classes absent
// from both the true and predicted labels are excluded from the average; a
// class with support but no true positives contributes zero.
func (cm *ConfusionMatrix) MacroF1() float64 {
	var sum float64
	counted := 0
	for c := 0; c < cm.NumClasses; c++ {
		tp := cm.Matrix[c][c]
		fp, fn := 0, 0
		for o := 0; o < cm.NumClasses; o++ {
			if o == c {
				continue
			}
			fp += cm.Matrix[o][c]
			fn += cm.Matrix[c][o]
		}
		if tp+fp+fn == 0 {
			continue
		}
		sum += float64(2*tp) / float64(2*tp+fp+fn)
		counted++
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

// BatchMetrics computes accuracy and macro F1 for one batch of logits [N,K]
// against true labels [N]. Both are computed against the original labels
// regardless of augmentation.
func BatchMetrics(logits, labels *tensor.Tensor, numClasses int) (accuracy, macroF1 float64, err error) {
	predicted, err := tensor.ArgmaxRows(logits)
	if err != nil {
		return 0, 0, errors.Wrap(err, "batch metrics")
	}
	trueLabels, err := labels.Int32Data()
	if err != nil {
		return 0, 0, errors.Wrap(err, "batch metrics")
	}

	cm := NewConfusionMatrix(numClasses)
	if err := cm.Update(predicted, trueLabels); err != nil {
		return 0, 0, errors.Wrap(err, "batch metrics")
	}
	return cm.Accuracy(), cm.MacroF1(), nil
}

// EpochMetrics accumulates per-batch loss, accuracy, and macro F1 across one
// epoch.
type EpochMetrics struct {
	Loss     []float64
	Accuracy []float64
	F1       []float64
}

// Append records one batch.
func (m *EpochMetrics) Append(loss, accuracy, f1 float64) {
	m.Loss = append(m.Loss, loss)
	m.Accuracy = append(m.Accuracy, accuracy)
	m.F1 = append(m.F1, f1)
}

// Batches returns how many batches were recorded.
func (m *EpochMetrics) Batches() int {
	return len(m.Loss)
}

// Averages returns the batch-averaged loss, accuracy, and macro F1.
func (m *EpochMetrics) Averages() (loss, accuracy, f1 float64) {
	n := float64(len(m.Loss))
	if n == 0 {
		return 0, 0, 0
	}
	return floats.Sum(m.Loss) / n, floats.Sum(m.Accuracy) / n, floats.Sum(m.F1) / n
}
