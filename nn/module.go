// Package nn provides the minimal neural network building blocks consumed by
// the classification training loop: a Module interface with explicit forward
// and backward passes, a fully connected layer, pointwise activations, and a
// sequential container.
package nn

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

// Module is a network component with an explicit backward pass. Backward
// consumes the gradient of the loss with respect to the module output,
// accumulates parameter gradients, and returns the gradient with respect to
// the module input.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// Linear implements a fully connected layer: y = xW + b.
type Linear struct {
	weight   *tensor.Tensor // [in, out]
	bias     *tensor.Tensor // [out], nil when bias is disabled
	input    *tensor.Tensor // cached forward input for the backward pass
	training bool
}

// NewLinear creates a Linear layer with Xavier/Glorot uniform initialization.
// The caller-owned rng keeps weight initialization reproducible.
func NewLinear(inputSize, outputSize int, bias bool, rng *rand.Rand) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, errors.Errorf("invalid linear layer size %dx%d", inputSize, outputSize)
	}

	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, tensor.CPU, weightData)
	if err != nil {
		return nil, errors.Wrap(err, "create weight tensor")
	}
	weight.SetRequiresGrad(true)

	l := &Linear{weight: weight, training: true}

	if bias {
		b, err := tensor.Zeros([]int{outputSize}, tensor.Float32, tensor.CPU)
		if err != nil {
			return nil, errors.Wrap(err, "create bias tensor")
		}
		b.SetRequiresGrad(true)
		l.bias = b
	}

	return l, nil
}

// Forward computes y = xW + b for input x of shape [N, in].
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, errors.Errorf("linear layer expects a 2D input, got shape %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, errors.Errorf("input features %d do not match layer input size %d", input.Shape[1], l.weight.Shape[0])
	}

	l.input = input

	out, err := tensor.MatMul(input, l.weight)
	if err != nil {
		return nil, errors.Wrap(err, "linear forward")
	}

	if l.bias != nil {
		outData, _ := out.Float32Data()
		biasData, _ := l.bias.Float32Data()
		cols := out.Shape[1]
		for i := 0; i < out.Shape[0]; i++ {
			for j := 0; j < cols; j++ {
				outData[i*cols+j] += biasData[j]
			}
		}
	}

	return out, nil
}

// Backward accumulates dL/dW = x^T g and dL/db = column sums of g, and
// returns dL/dx = g W^T.
func (l *Linear) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, errors.New("linear backward called before forward")
	}

	inputT, err := tensor.Transpose(l.input)
	if err != nil {
		return nil, errors.Wrap(err, "linear backward")
	}
	gradW, err := tensor.MatMul(inputT, gradOut)
	if err != nil {
		return nil, errors.Wrap(err, "linear backward: weight gradient")
	}
	if err := l.weight.AccumulateGrad(gradW); err != nil {
		return nil, errors.Wrap(err, "linear backward: weight gradient")
	}

	if l.bias != nil {
		gradData, _ := gradOut.Float32Data()
		rows, cols := gradOut.Shape[0], gradOut.Shape[1]
		biasGrad := make([]float32, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				biasGrad[j] += gradData[i*cols+j]
			}
		}
		gb, err := tensor.NewTensor([]int{cols}, tensor.Float32, tensor.CPU, biasGrad)
		if err != nil {
			return nil, errors.Wrap(err, "linear backward: bias gradient")
		}
		if err := l.bias.AccumulateGrad(gb); err != nil {
			return nil, errors.Wrap(err, "linear backward: bias gradient")
		}
	}

	weightT, err := tensor.Transpose(l.weight)
	if err != nil {
		return nil, errors.Wrap(err, "linear backward")
	}
	gradIn, err := tensor.MatMul(gradOut, weightT)
	if err != nil {
		return nil, errors.Wrap(err, "linear backward: input gradient")
	}
	return gradIn, nil
}

// Parameters returns the layer's trainable tensors.
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.bias != nil {
		return []*tensor.Tensor{l.weight, l.bias}
	}
	return []*tensor.Tensor{l.weight}
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// ReLU applies max(0, x) elementwise.
type ReLU struct {
	mask     []bool
	training bool
}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward zeroes negative inputs, caching the activation mask.
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	data, err := input.Float32Data()
	if err != nil {
		return nil, errors.Wrap(err, "relu forward")
	}

	out := make([]float32, len(data))
	if cap(r.mask) < len(data) {
		r.mask = make([]bool, len(data))
	}
	r.mask = r.mask[:len(data)]
	for i, v := range data {
		if v > 0 {
			out[i] = v
			r.mask[i] = true
		} else {
			r.mask[i] = false
		}
	}

	result, err := tensor.NewTensor(input.Shape, tensor.Float32, input.Device, out)
	if err != nil {
		return nil, errors.Wrap(err, "relu forward")
	}
	return result, nil
}

// Backward passes gradients through where the forward input was positive.
func (r *ReLU) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	data, err := gradOut.Float32Data()
	if err != nil {
		return nil, errors.Wrap(err, "relu backward")
	}
	if len(data) != len(r.mask) {
		return nil, errors.Errorf("relu backward: gradient size %d does not match cached mask size %d", len(data), len(r.mask))
	}

	out := make([]float32, len(data))
	for i, v := range data {
		if r.mask[i] {
			out[i] = v
		}
	}

	result, err := tensor.NewTensor(gradOut.Shape, tensor.Float32, gradOut.Device, out)
	if err != nil {
		return nil, errors.Wrap(err, "relu backward")
	}
	return result, nil
}

func (r *ReLU) Parameters() []*tensor.Tensor { return nil }
func (r *ReLU) Train()                       { r.training = true }
func (r *ReLU) Eval()                        { r.training = false }
func (r *ReLU) IsTraining() bool             { return r.training }

// Flatten reshapes [N, ...] inputs to [N, features].
type Flatten struct {
	inputShape []int
	training   bool
}

// NewFlatten creates a Flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{training: true}
}

// Forward flattens all trailing dimensions into one.
func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, errors.Errorf("flatten expects at least a 2D input, got shape %v", input.Shape)
	}

	f.inputShape = make([]int, len(input.Shape))
	copy(f.inputShape, input.Shape)

	features := 1
	for _, dim := range input.Shape[1:] {
		features *= dim
	}

	out, err := tensor.Reshape(input, []int{input.Shape[0], features})
	if err != nil {
		return nil, errors.Wrap(err, "flatten forward")
	}
	return out, nil
}

// Backward restores the cached input shape.
func (f *Flatten) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if f.inputShape == nil {
		return nil, errors.New("flatten backward called before forward")
	}
	out, err := tensor.Reshape(gradOut, f.inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "flatten backward")
	}
	return out, nil
}

func (f *Flatten) Parameters() []*tensor.Tensor { return nil }
func (f *Flatten) Train()                       { f.training = true }
func (f *Flatten) Eval()                        { f.training = false }
func (f *Flatten) IsTraining() bool             { return f.training }

// Sequential chains modules, running backward in reverse order.
type Sequential struct {
	modules []Module
}

// NewSequential creates a Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward runs every module in order.
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, m := range s.modules {
		out, err = m.Forward(out)
		if err != nil {
			return nil, errors.Wrapf(err, "sequential forward at module %d", i)
		}
	}
	return out, nil
}

// Backward runs every module's backward pass in reverse order.
func (s *Sequential) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	grad := gradOut
	var err error
	for i := len(s.modules) - 1; i >= 0; i-- {
		grad, err = s.modules[i].Backward(grad)
		if err != nil {
			return nil, errors.Wrapf(err, "sequential backward at module %d", i)
		}
	}
	return grad, nil
}

// Parameters collects trainable tensors from every module.
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (s *Sequential) Train() {
	for _, m := range s.modules {
		m.Train()
	}
}

func (s *Sequential) Eval() {
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool {
	for _, m := range s.modules {
		if !m.IsTraining() {
			return false
		}
	}
	return true
}
