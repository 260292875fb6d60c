package tensor

import (
	"fmt"
)

func checkBinary(a, b *Tensor) error {
	if a.DType != Float32 || b.DType != Float32 {
		return fmt.Errorf("elementwise operations require Float32 tensors, got %s and %s", a.DType, b.DType)
	}
	if !a.SameShape(b) {
		return fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	return nil
}

// Add returns a + b elementwise.
func Add(a, b *Tensor) (*Tensor, error) {
	if err := checkBinary(a, b); err != nil {
		return nil, fmt.Errorf("add failed: %v", err)
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	result := make([]float32, len(aData))
	for i := range result {
		result[i] = aData[i] + bData[i]
	}
	return NewTensor(a.Shape, Float32, a.Device, result)
}

// Sub returns a - b elementwise.
func Sub(a, b *Tensor) (*Tensor, error) {
	if err := checkBinary(a, b); err != nil {
		return nil, fmt.Errorf("sub failed: %v", err)
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	result := make([]float32, len(aData))
	for i := range result {
		result[i] = aData[i] - bData[i]
	}
	return NewTensor(a.Shape, Float32, a.Device, result)
}

// Mul returns a * b elementwise.
func Mul(a, b *Tensor) (*Tensor, error) {
	if err := checkBinary(a, b); err != nil {
		return nil, fmt.Errorf("mul failed: %v", err)
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	result := make([]float32, len(aData))
	for i := range result {
		result[i] = aData[i] * bData[i]
	}
	return NewTensor(a.Shape, Float32, a.Device, result)
}

// Scale returns t * s elementwise for a scalar s.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("scale requires a Float32 tensor, got %s", t.DType)
	}

	data := t.Data.([]float32)
	result := make([]float32, len(data))
	factor := float32(s)
	for i := range result {
		result[i] = data[i] * factor
	}
	return NewTensor(t.Shape, Float32, t.Device, result)
}

// MatMul computes the matrix product of a [M,K] and b [K,N].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("matmul requires Float32 tensors")
	}
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got shapes %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("inner dimension mismatch: %v x %v", a.Shape, b.Shape)
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	result := make([]float32, m*n)

	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := aData[i*k+l]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				result[i*n+j] += av * bData[l*n+j]
			}
		}
	}

	return NewTensor([]int{m, n}, Float32, a.Device, result)
}

// Transpose returns the transpose of a 2D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("transpose requires a Float32 tensor")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got shape %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result[j*rows+i] = data[i*cols+j]
		}
	}
	return NewTensor([]int{cols, rows}, Float32, t.Device, result)
}

// ArgmaxRows returns, for a [N,C] tensor, the index of the maximum element in
// each row.
func ArgmaxRows(t *Tensor) ([]int32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("argmax requires a Float32 tensor")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("argmax requires a 2D tensor, got shape %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	out := make([]int32, rows)
	for i := 0; i < rows; i++ {
		best := 0
		bestVal := data[i*cols]
		for j := 1; j < cols; j++ {
			if data[i*cols+j] > bestVal {
				bestVal = data[i*cols+j]
				best = j
			}
		}
		out[i] = int32(best)
	}
	return out, nil
}

// Reshape returns a view-copy of t with a new shape holding the same number
// of elements.
func Reshape(t *Tensor, shape []int) (*Tensor, error) {
	numElems := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		numElems *= dim
	}
	if numElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)", t.Shape, t.NumElems, shape, numElems)
	}

	clone, err := t.Clone()
	if err != nil {
		return nil, err
	}
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	clone.Shape = shapeCopy
	return clone, nil
}
