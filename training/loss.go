package training

import (
	"math"

	"github.com/pkg/errors"

	"github.com/c-juhwan/colorful-cutout-aug/augment"
	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

// CrossEntropyLoss is cross entropy over logits with label smoothing, mean
// reduction over the batch. With smoothing eps over K classes, the per-sample
// target distribution is (1-eps) on the true class and eps/K everywhere.
type CrossEntropyLoss struct {
	LabelSmoothing float64
}

// NewCrossEntropyLoss creates the loss function.
func NewCrossEntropyLoss(labelSmoothing float64) (*CrossEntropyLoss, error) {
	if labelSmoothing < 0 || labelSmoothing >= 1 {
		return nil, errors.Errorf("label smoothing must be in [0, 1), got %g", labelSmoothing)
	}
	return &CrossEntropyLoss{LabelSmoothing: labelSmoothing}, nil
}

func checkLossInputs(logits, target *tensor.Tensor) (batchSize, numClasses int, err error) {
	if logits.DType != tensor.Float32 || target.DType != tensor.Int32 {
		return 0, 0, errors.New("logits must be Float32 and target must be Int32")
	}
	if len(logits.Shape) != 2 {
		return 0, 0, errors.Errorf("logits must be [batch, classes], got shape %v", logits.Shape)
	}
	if len(target.Shape) != 1 || target.Shape[0] != logits.Shape[0] {
		return 0, 0, errors.Errorf("target shape %v does not match logits shape %v", target.Shape, logits.Shape)
	}
	return logits.Shape[0], logits.Shape[1], nil
}

// softmaxRows computes a numerically stable row-wise softmax.
func softmaxRows(logits *tensor.Tensor) []float64 {
	batchSize, numClasses := logits.Shape[0], logits.Shape[1]
	data := logits.Data.([]float32)
	probs := make([]float64, len(data))

	for i := 0; i < batchSize; i++ {
		offset := i * numClasses
		maxVal := float64(data[offset])
		for j := 1; j < numClasses; j++ {
			if v := float64(data[offset+j]); v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for j := 0; j < numClasses; j++ {
			e := math.Exp(float64(data[offset+j]) - maxVal)
			probs[offset+j] = e
			sum += e
		}
		for j := 0; j < numClasses; j++ {
			probs[offset+j] /= sum
		}
	}
	return probs
}

// Forward computes the mean smoothed cross entropy of logits [N,K] against
// class indices target [N].
func (ce *CrossEntropyLoss) Forward(logits, target *tensor.Tensor) (float64, error) {
	batchSize, numClasses, err := checkLossInputs(logits, target)
	if err != nil {
		return 0, err
	}

	probs := softmaxRows(logits)
	targetData := target.Data.([]int32)
	eps := ce.LabelSmoothing
	uniform := eps / float64(numClasses)

	var total float64
	for i := 0; i < batchSize; i++ {
		cls := int(targetData[i])
		if cls < 0 || cls >= numClasses {
			return 0, errors.Errorf("target class %d out of range [0, %d)", cls, numClasses)
		}
		offset := i * numClasses
		for j := 0; j < numClasses; j++ {
			q := uniform
			if j == cls {
				q += 1 - eps
			}
			if q == 0 {
				continue
			}
			p := probs[offset+j]
			if p < 1e-12 {
				p = 1e-12
			}
			total -= q * math.Log(p)
		}
	}

	return total / float64(batchSize), nil
}

// Backward computes dL/dlogits = (softmax - q) / N for the mean-reduced
// smoothed cross entropy.
func (ce *CrossEntropyLoss) Backward(logits, target *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, numClasses, err := checkLossInputs(logits, target)
	if err != nil {
		return nil, err
	}

	probs := softmaxRows(logits)
	targetData := target.Data.([]int32)
	eps := ce.LabelSmoothing
	uniform := eps / float64(numClasses)
	scale := 1 / float64(batchSize)

	grad := make([]float32, len(probs))
	for i := 0; i < batchSize; i++ {
		cls := int(targetData[i])
		if cls < 0 || cls >= numClasses {
			return nil, errors.Errorf("target class %d out of range [0, %d)", cls, numClasses)
		}
		offset := i * numClasses
		for j := 0; j < numClasses; j++ {
			q := uniform
			if j == cls {
				q += 1 - eps
			}
			grad[offset+j] = float32((probs[offset+j] - q) * scale)
		}
	}

	return tensor.NewTensor(logits.Shape, tensor.Float32, logits.Device, grad)
}

// ForwardMixed computes the augmentation-adjusted loss
// w * CE(logits, labels) + (1-w) * CE(logits, partner) per the batch's loss
// spec. A spec without partner labels reduces to the plain loss.
func (ce *CrossEntropyLoss) ForwardMixed(logits, labels *tensor.Tensor, spec augment.LossSpec) (float64, error) {
	primary, err := ce.Forward(logits, labels)
	if err != nil {
		return 0, err
	}
	if spec.PartnerLabels == nil {
		return primary, nil
	}

	partner, err := ce.Forward(logits, spec.PartnerLabels)
	if err != nil {
		return 0, err
	}
	return spec.Weight*primary + (1-spec.Weight)*partner, nil
}

// BackwardMixed computes the gradient of the mixed loss with respect to the
// logits.
func (ce *CrossEntropyLoss) BackwardMixed(logits, labels *tensor.Tensor, spec augment.LossSpec) (*tensor.Tensor, error) {
	primary, err := ce.Backward(logits, labels)
	if err != nil {
		return nil, err
	}
	if spec.PartnerLabels == nil {
		return primary, nil
	}

	partner, err := ce.Backward(logits, spec.PartnerLabels)
	if err != nil {
		return nil, err
	}

	primaryScaled, err := tensor.Scale(primary, spec.Weight)
	if err != nil {
		return nil, err
	}
	partnerScaled, err := tensor.Scale(partner, 1-spec.Weight)
	if err != nil {
		return nil, err
	}
	return tensor.Add(primaryScaled, partnerScaled)
}
