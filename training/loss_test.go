package training

import (
	"math"
	"testing"

	"github.com/c-juhwan/colorful-cutout-aug/augment"
	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

func logitsTensor(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.NewTensor(shape, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	return out
}

func labelTensor(t *testing.T, labels []int32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.NewTensor([]int{len(labels)}, tensor.Int32, tensor.CPU, labels)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	return out
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	// Equal logits give uniform softmax, so the loss is log(K) for any
	// target and any smoothing level.
	ce, err := NewCrossEntropyLoss(0.05)
	if err != nil {
		t.Fatalf("NewCrossEntropyLoss: %v", err)
	}

	logits := logitsTensor(t, []int{2, 4}, []float32{0, 0, 0, 0, 0, 0, 0, 0})
	labels := labelTensor(t, []int32{1, 3})

	loss, err := ce.Forward(logits, labels)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-9 {
		t.Errorf("loss = %g, want log(4) = %g", loss, math.Log(4))
	}
}

func TestCrossEntropyKnownValue(t *testing.T) {
	ce, err := NewCrossEntropyLoss(0)
	if err != nil {
		t.Fatalf("NewCrossEntropyLoss: %v", err)
	}

	logits := logitsTensor(t, []int{1, 2}, []float32{2, 0})
	labels := labelTensor(t, []int32{0})

	loss, err := ce.Forward(logits, labels)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := math.Log(1 + math.Exp(-2))
	if math.Abs(loss-want) > 1e-7 {
		t.Errorf("loss = %g, want %g", loss, want)
	}
}

func TestCrossEntropyRejectsBadTarget(t *testing.T) {
	ce, _ := NewCrossEntropyLoss(0)
	logits := logitsTensor(t, []int{1, 3}, []float32{1, 2, 3})

	if _, err := ce.Forward(logits, labelTensor(t, []int32{3})); err == nil {
		t.Error("expected error for out-of-range class")
	}
	if _, err := ce.Forward(logits, labelTensor(t, []int32{-1})); err == nil {
		t.Error("expected error for negative class")
	}
}

func TestCrossEntropyGradientSumsToZero(t *testing.T) {
	// Softmax probabilities and the target distribution both sum to one
	// per row, so each row of the gradient sums to zero.
	ce, err := NewCrossEntropyLoss(0.05)
	if err != nil {
		t.Fatalf("NewCrossEntropyLoss: %v", err)
	}

	logits := logitsTensor(t, []int{2, 3}, []float32{1, -2, 0.5, 0, 3, -1})
	labels := labelTensor(t, []int32{2, 0})

	grad, err := ce.Backward(logits, labels)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	data, err := grad.Float32Data()
	if err != nil {
		t.Fatalf("Float32Data: %v", err)
	}
	for row := 0; row < 2; row++ {
		var sum float64
		for j := 0; j < 3; j++ {
			sum += float64(data[row*3+j])
		}
		if math.Abs(sum) > 1e-6 {
			t.Errorf("row %d gradient sums to %g, want 0", row, sum)
		}
	}
}

func TestCrossEntropyGradientMatchesNumeric(t *testing.T) {
	ce, err := NewCrossEntropyLoss(0.1)
	if err != nil {
		t.Fatalf("NewCrossEntropyLoss: %v", err)
	}

	base := []float32{0.3, -1.2, 0.8, 2.0, 0.1, -0.4}
	labels := labelTensor(t, []int32{2, 0})

	grad, err := ce.Backward(logitsTensor(t, []int{2, 3}, base), labels)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	gradData, _ := grad.Float32Data()

	const h = 1e-3
	for i := range base {
		plus := make([]float32, len(base))
		minus := make([]float32, len(base))
		copy(plus, base)
		copy(minus, base)
		plus[i] += h
		minus[i] -= h

		lossPlus, err := ce.Forward(logitsTensor(t, []int{2, 3}, plus), labels)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		lossMinus, err := ce.Forward(logitsTensor(t, []int{2, 3}, minus), labels)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		numeric := (lossPlus - lossMinus) / (2 * h)
		if math.Abs(numeric-float64(gradData[i])) > 1e-3 {
			t.Errorf("logit %d: analytic grad %g, numeric %g", i, gradData[i], numeric)
		}
	}
}

func TestMixedLossLinearity(t *testing.T) {
	ce, err := NewCrossEntropyLoss(0.05)
	if err != nil {
		t.Fatalf("NewCrossEntropyLoss: %v", err)
	}

	logits := logitsTensor(t, []int{2, 3}, []float32{1, 0, -1, 0.5, 2, -0.5})
	labels := labelTensor(t, []int32{0, 1})
	partner := labelTensor(t, []int32{1, 0})

	primary, err := ce.Forward(logits, labels)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	other, err := ce.Forward(logits, partner)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	const w = 0.7
	mixed, err := ce.ForwardMixed(logits, labels, augment.LossSpec{PartnerLabels: partner, Weight: w})
	if err != nil {
		t.Fatalf("ForwardMixed: %v", err)
	}
	want := w*primary + (1-w)*other
	if math.Abs(mixed-want) > 1e-9 {
		t.Errorf("mixed loss = %g, want %g", mixed, want)
	}
}

func TestMixedLossWithoutPartnerIsPlain(t *testing.T) {
	ce, _ := NewCrossEntropyLoss(0)
	logits := logitsTensor(t, []int{1, 2}, []float32{1, -1})
	labels := labelTensor(t, []int32{0})

	plain, err := ce.Forward(logits, labels)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	mixed, err := ce.ForwardMixed(logits, labels, augment.LossSpec{Weight: 1})
	if err != nil {
		t.Fatalf("ForwardMixed: %v", err)
	}
	if mixed != plain {
		t.Errorf("mixed = %g, plain = %g", mixed, plain)
	}

	grad, err := ce.BackwardMixed(logits, labels, augment.LossSpec{Weight: 1})
	if err != nil {
		t.Fatalf("BackwardMixed: %v", err)
	}
	plainGrad, _ := ce.Backward(logits, labels)
	g1, _ := grad.Float32Data()
	g2, _ := plainGrad.Float32Data()
	for i := range g1 {
		if g1[i] != g2[i] {
			t.Errorf("grad %d: mixed %g, plain %g", i, g1[i], g2[i])
		}
	}
}

func TestMixedGradientCombines(t *testing.T) {
	ce, _ := NewCrossEntropyLoss(0)
	logits := logitsTensor(t, []int{2, 2}, []float32{1, 0, 0, 1})
	labels := labelTensor(t, []int32{0, 1})
	partner := labelTensor(t, []int32{1, 0})

	const w = 0.6
	grad, err := ce.BackwardMixed(logits, labels, augment.LossSpec{PartnerLabels: partner, Weight: w})
	if err != nil {
		t.Fatalf("BackwardMixed: %v", err)
	}

	primary, _ := ce.Backward(logits, labels)
	other, _ := ce.Backward(logits, partner)
	pd, _ := primary.Float32Data()
	od, _ := other.Float32Data()
	gd, _ := grad.Float32Data()
	for i := range gd {
		want := float32(w)*pd[i] + float32(1-w)*od[i]
		if math.Abs(float64(gd[i]-want)) > 1e-6 {
			t.Errorf("grad %d = %g, want %g", i, gd[i], want)
		}
	}
}

func TestLossRejectsBadSmoothing(t *testing.T) {
	for _, eps := range []float64{-0.1, 1, 1.5} {
		if _, err := NewCrossEntropyLoss(eps); err == nil {
			t.Errorf("expected error for smoothing %g", eps)
		}
	}
}
