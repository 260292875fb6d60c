package tensor

import (
	"math"
	"testing"
)

func TestNewTensorValidation(t *testing.T) {
	_, err := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3})
	if err == nil {
		t.Error("expected error for mismatched data length")
	}

	_, err = NewTensor([]int{2, 0}, Float32, CPU, []float32{})
	if err == nil {
		t.Error("expected error for zero dimension")
	}

	_, err = NewTensor([]int{2}, Float32, CPU, []int32{1, 2})
	if err == nil {
		t.Error("expected error for wrong data type")
	}

	tt, err := NewTensor([]int{2, 3}, Float32, CPU, make([]float32, 6))
	if err != nil {
		t.Fatalf("valid tensor creation failed: %v", err)
	}
	if tt.NumElems != 6 {
		t.Errorf("expected 6 elements, got %d", tt.NumElems)
	}
}

func TestResolveDevice(t *testing.T) {
	tests := []struct {
		requested string
		device    DeviceType
		fellBack  bool
	}{
		{"cpu", CPU, false},
		{"", CPU, false},
		{"cuda", CPU, true},
		{"cuda:0", CPU, true},
		{"mps", CPU, true},
	}

	for _, tt := range tests {
		device, fellBack := ResolveDevice(tt.requested)
		if device != tt.device || fellBack != tt.fellBack {
			t.Errorf("ResolveDevice(%q) = (%s, %v), want (%s, %v)",
				tt.requested, device, fellBack, tt.device, tt.fellBack)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig, _ := NewTensor([]int{3}, Float32, CPU, []float32{1, 2, 3})
	clone, err := orig.Clone()
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}

	clone.Data.([]float32)[0] = 99
	if orig.Data.([]float32)[0] != 1 {
		t.Error("clone shares data with original")
	}
}

func TestAccumulateGrad(t *testing.T) {
	param, _ := NewTensor([]int{2}, Float32, CPU, []float32{0, 0})
	param.SetRequiresGrad(true)

	g, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	if err := param.AccumulateGrad(g); err != nil {
		t.Fatalf("first accumulate failed: %v", err)
	}
	if err := param.AccumulateGrad(g); err != nil {
		t.Fatalf("second accumulate failed: %v", err)
	}

	grad := param.Grad().Data.([]float32)
	if grad[0] != 2 || grad[1] != 4 {
		t.Errorf("expected accumulated grad [2 4], got %v", grad)
	}

	param.ZeroGrad()
	grad = param.Grad().Data.([]float32)
	if grad[0] != 0 || grad[1] != 0 {
		t.Errorf("expected zeroed grad, got %v", grad)
	}
}

func TestMatMul(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	b, _ := NewTensor([]int{3, 2}, Float32, CPU, []float32{7, 8, 9, 10, 11, 12})

	c, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("matmul failed: %v", err)
	}

	expected := []float32{58, 64, 139, 154}
	got := c.Data.([]float32)
	for i := range expected {
		if math.Abs(float64(got[i]-expected[i])) > 1e-6 {
			t.Errorf("result[%d] = %f, want %f", i, got[i], expected[i])
		}
	}

	_, err = MatMul(a, a)
	if err == nil {
		t.Error("expected inner dimension mismatch error")
	}
}

func TestTranspose(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	at, err := Transpose(a)
	if err != nil {
		t.Fatalf("transpose failed: %v", err)
	}

	expected := []float32{1, 4, 2, 5, 3, 6}
	got := at.Data.([]float32)
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("result[%d] = %f, want %f", i, got[i], expected[i])
		}
	}
	if at.Shape[0] != 3 || at.Shape[1] != 2 {
		t.Errorf("expected shape [3 2], got %v", at.Shape)
	}
}

func TestArgmaxRows(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{0.1, 0.7, 0.2, 0.9, 0.05, 0.05})
	idx, err := ArgmaxRows(a)
	if err != nil {
		t.Fatalf("argmax failed: %v", err)
	}
	if idx[0] != 1 || idx[1] != 0 {
		t.Errorf("expected [1 0], got %v", idx)
	}
}

func TestElementwiseOps(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{3, 4})
	b, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})

	sum, _ := Add(a, b)
	if d := sum.Data.([]float32); d[0] != 4 || d[1] != 6 {
		t.Errorf("add: got %v", d)
	}

	diff, _ := Sub(a, b)
	if d := diff.Data.([]float32); d[0] != 2 || d[1] != 2 {
		t.Errorf("sub: got %v", d)
	}

	prod, _ := Mul(a, b)
	if d := prod.Data.([]float32); d[0] != 3 || d[1] != 8 {
		t.Errorf("mul: got %v", d)
	}

	scaled, _ := Scale(a, 0.5)
	if d := scaled.Data.([]float32); d[0] != 1.5 || d[1] != 2 {
		t.Errorf("scale: got %v", d)
	}
}

func TestReshape(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	r, err := Reshape(a, []int{6})
	if err != nil {
		t.Fatalf("reshape failed: %v", err)
	}
	if len(r.Shape) != 1 || r.Shape[0] != 6 {
		t.Errorf("expected shape [6], got %v", r.Shape)
	}

	_, err = Reshape(a, []int{4})
	if err == nil {
		t.Error("expected element count mismatch error")
	}
}
