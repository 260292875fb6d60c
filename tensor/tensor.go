package tensor

import (
	"fmt"
)

// DType identifies the element type of a tensor.
type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// DeviceType identifies where tensor data lives. Only CPU compute is
// implemented; requesting an accelerator falls back to CPU.
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ResolveDevice maps a requested device name ("cpu", "cuda", "mps", ...) to an
// available DeviceType. The second return value reports whether the request
// had to fall back to CPU because no accelerator backend is available.
func ResolveDevice(requested string) (DeviceType, bool) {
	switch requested {
	case "", "cpu":
		return CPU, false
	default:
		return CPU, true
	}
}

// Tensor is a dense CPU tensor. Data is []float32 for Float32 tensors and
// []int32 for Int32 tensors, stored in row-major order.
type Tensor struct {
	Shape    []int
	DType    DType
	Device   DeviceType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
}

// NewTensor creates a tensor from existing data. The data length must match
// the product of the shape dimensions.
func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	numElems := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		numElems *= dim
	}

	switch dtype {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("expected []float32 data for Float32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("expected []int32 data for Int32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		DType:    dtype,
		Device:   device,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-initialized tensor.
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	numElems := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		numElems *= dim
	}

	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, device, make([]float32, numElems))
	case Int32:
		return NewTensor(shape, dtype, device, make([]int32, numElems))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// FromScalar creates a single-element Float32 tensor holding value.
func FromScalar(value float64, device DeviceType) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, device, []float32{float32(value)})
	return t
}

// Clone returns a deep copy of the tensor. Gradient state is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := make([]float32, len(src))
		copy(dst, src)
		return NewTensor(t.Shape, t.DType, t.Device, dst)
	case Int32:
		src := t.Data.([]int32)
		dst := make([]int32, len(src))
		copy(dst, src)
		return NewTensor(t.Shape, t.DType, t.Device, dst)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", t.DType)
	}
}

// Float32Data returns the underlying float32 slice.
func (t *Tensor) Float32Data() ([]float32, error) {
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Float32", t.DType)
	}
	return data, nil
}

// Int32Data returns the underlying int32 slice.
func (t *Tensor) Int32Data() ([]int32, error) {
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Int32", t.DType)
	}
	return data, nil
}

// SetData replaces the tensor's data in place. The new data must have the
// same type and length as the existing data.
func (t *Tensor) SetData(data interface{}) error {
	switch t.DType {
	case Float32:
		src, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32, got %T", data)
		}
		if len(src) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(src), t.NumElems)
		}
		copy(t.Data.([]float32), src)
	case Int32:
		src, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32, got %T", data)
		}
		if len(src) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(src), t.NumElems)
		}
		copy(t.Data.([]int32), src)
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// SameShape reports whether both tensors have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i, dim := range t.Shape {
		if dim != other.Shape[i] {
			return false
		}
	}
	return true
}

// SetRequiresGrad marks the tensor as a trainable parameter.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// RequiresGrad reports whether the tensor is a trainable parameter.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// Grad returns the accumulated gradient tensor, or nil if none.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// AccumulateGrad adds grad into the tensor's gradient, allocating it on first
// use. The gradient must match the tensor's shape.
func (t *Tensor) AccumulateGrad(grad *Tensor) error {
	if t.DType != Float32 || grad.DType != Float32 {
		return fmt.Errorf("gradients require Float32 tensors")
	}
	if !t.SameShape(grad) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}

	if t.grad == nil {
		g, err := Zeros(t.Shape, Float32, t.Device)
		if err != nil {
			return err
		}
		t.grad = g
	}

	dst := t.grad.Data.([]float32)
	src := grad.Data.([]float32)
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	if t.grad == nil {
		return
	}
	data := t.grad.Data.([]float32)
	for i := range data {
		data[i] = 0
	}
}
