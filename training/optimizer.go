package training

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/c-juhwan/colorful-cutout-aug/checkpoints"
	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

// OptimizerKind names a supported optimizer.
type OptimizerKind string

const (
	SGDKind   OptimizerKind = "SGD"
	AdamWKind OptimizerKind = "AdamW"
)

// ParseOptimizerKind validates an optimizer name. Unknown names are a fatal
// configuration error.
func ParseOptimizerKind(s string) (OptimizerKind, error) {
	switch OptimizerKind(s) {
	case SGDKind, AdamWKind:
		return OptimizerKind(s), nil
	default:
		return "", errors.Errorf("unimplemented optimizer: %q", s)
	}
}

// Optimizer updates model parameters from their accumulated gradients. State
// export and import make checkpoints fully resumable.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
	StateDict() *checkpoints.OptimizerState
	LoadStateDict(state *checkpoints.OptimizerState) error
}

// NewOptimizer builds the optimizer for kind over params.
func NewOptimizer(kind OptimizerKind, params []*tensor.Tensor, lr, weightDecay float64) (Optimizer, error) {
	switch kind {
	case SGDKind:
		return NewSGD(params, lr, 0.9, weightDecay), nil
	case AdamWKind:
		return NewAdamW(params, lr, 0.9, 0.999, 1e-8, weightDecay), nil
	default:
		return nil, errors.Errorf("unimplemented optimizer: %q", kind)
	}
}

func slotTensor(idx int, stateType string, shape []int, data []float32) checkpoints.StateTensor {
	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return checkpoints.StateTensor{
		Name:      fmt.Sprintf("param_%d", idx),
		Shape:     shapeCopy,
		Data:      dataCopy,
		StateType: stateType,
	}
}

// SGD implements stochastic gradient descent with momentum and weight decay.
type SGD struct {
	params      []*tensor.Tensor
	lr          float64
	momentum    float64
	weightDecay float64
	velocities  [][]float32
	stepCount   int
}

// NewSGD creates an SGD optimizer.
func NewSGD(params []*tensor.Tensor, lr, momentum, weightDecay float64) *SGD {
	velocities := make([][]float32, len(params))
	for i, p := range params {
		velocities[i] = make([]float32, p.NumElems)
	}
	return &SGD{
		params:      params,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocities:  velocities,
	}
}

// Step applies one update: v = momentum*v + (grad + wd*param); param -= lr*v.
func (sgd *SGD) Step() error {
	for i, param := range sgd.params {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		data, err := param.Float32Data()
		if err != nil {
			return errors.Wrapf(err, "sgd step on param %d", i)
		}
		grad, err := param.Grad().Float32Data()
		if err != nil {
			return errors.Wrapf(err, "sgd step on param %d", i)
		}

		v := sgd.velocities[i]
		mom := float32(sgd.momentum)
		wd := float32(sgd.weightDecay)
		lr := float32(sgd.lr)
		for j := range data {
			g := grad[j] + wd*data[j]
			v[j] = mom*v[j] + g
			data[j] -= lr * v[j]
		}
	}
	sgd.stepCount++
	return nil
}

// ZeroGrad clears every parameter gradient.
func (sgd *SGD) ZeroGrad() {
	for _, p := range sgd.params {
		p.ZeroGrad()
	}
}

func (sgd *SGD) GetLR() float64   { return sgd.lr }
func (sgd *SGD) SetLR(lr float64) { sgd.lr = lr }

// StateDict exports velocities and the step counter.
func (sgd *SGD) StateDict() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Kind:      string(SGDKind),
		LR:        sgd.lr,
		StepCount: sgd.stepCount,
	}
	for i, v := range sgd.velocities {
		state.Slots = append(state.Slots, slotTensor(i, "velocity", sgd.params[i].Shape, v))
	}
	return state
}

// LoadStateDict restores velocities and the step counter.
func (sgd *SGD) LoadStateDict(state *checkpoints.OptimizerState) error {
	if state.Kind != string(SGDKind) {
		return errors.Errorf("checkpoint optimizer kind %q does not match SGD", state.Kind)
	}
	if len(state.Slots) != len(sgd.params) {
		return errors.Errorf("checkpoint has %d velocity slots for %d parameters", len(state.Slots), len(sgd.params))
	}
	for i, slot := range state.Slots {
		if len(slot.Data) != sgd.params[i].NumElems {
			return errors.Errorf("velocity slot %d size %d does not match parameter size %d", i, len(slot.Data), sgd.params[i].NumElems)
		}
		copy(sgd.velocities[i], slot.Data)
	}
	sgd.lr = state.LR
	sgd.stepCount = state.StepCount
	return nil
}

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	params      []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64
	m           [][]float32
	v           [][]float32
	stepCount   int
}

// NewAdamW creates an AdamW optimizer.
func NewAdamW(params []*tensor.Tensor, lr, beta1, beta2, epsilon, weightDecay float64) *AdamW {
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		m[i] = make([]float32, p.NumElems)
		v[i] = make([]float32, p.NumElems)
	}
	return &AdamW{
		params:      params,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           m,
		v:           v,
	}
}

// Step applies one bias-corrected update with decoupled decay.
func (a *AdamW) Step() error {
	a.stepCount++
	bc1 := 1 - math.Pow(a.beta1, float64(a.stepCount))
	bc2 := 1 - math.Pow(a.beta2, float64(a.stepCount))

	for i, param := range a.params {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		data, err := param.Float32Data()
		if err != nil {
			return errors.Wrapf(err, "adamw step on param %d", i)
		}
		grad, err := param.Grad().Float32Data()
		if err != nil {
			return errors.Wrapf(err, "adamw step on param %d", i)
		}

		m, v := a.m[i], a.v[i]
		for j := range data {
			g := float64(grad[j])
			m[j] = float32(a.beta1*float64(m[j]) + (1-a.beta1)*g)
			v[j] = float32(a.beta2*float64(v[j]) + (1-a.beta2)*g*g)

			mHat := float64(m[j]) / bc1
			vHat := float64(v[j]) / bc2

			update := a.lr * (mHat/(math.Sqrt(vHat)+a.epsilon) + a.weightDecay*float64(data[j]))
			data[j] -= float32(update)
		}
	}
	return nil
}

// ZeroGrad clears every parameter gradient.
func (a *AdamW) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

func (a *AdamW) GetLR() float64   { return a.lr }
func (a *AdamW) SetLR(lr float64) { a.lr = lr }

// StateDict exports both moment buffers and the step counter.
func (a *AdamW) StateDict() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Kind:      string(AdamWKind),
		LR:        a.lr,
		StepCount: a.stepCount,
	}
	for i := range a.params {
		state.Slots = append(state.Slots, slotTensor(i, "m", a.params[i].Shape, a.m[i]))
		state.Slots = append(state.Slots, slotTensor(i, "v", a.params[i].Shape, a.v[i]))
	}
	return state
}

// LoadStateDict restores both moment buffers and the step counter.
func (a *AdamW) LoadStateDict(state *checkpoints.OptimizerState) error {
	if state.Kind != string(AdamWKind) {
		return errors.Errorf("checkpoint optimizer kind %q does not match AdamW", state.Kind)
	}
	if len(state.Slots) != 2*len(a.params) {
		return errors.Errorf("checkpoint has %d moment slots for %d parameters", len(state.Slots), len(a.params))
	}
	for i := range a.params {
		mSlot, vSlot := state.Slots[2*i], state.Slots[2*i+1]
		if mSlot.StateType != "m" || vSlot.StateType != "v" {
			return errors.Errorf("unexpected slot order for parameter %d: %q, %q", i, mSlot.StateType, vSlot.StateType)
		}
		if len(mSlot.Data) != a.params[i].NumElems || len(vSlot.Data) != a.params[i].NumElems {
			return errors.Errorf("moment slot %d size does not match parameter size %d", i, a.params[i].NumElems)
		}
		copy(a.m[i], mSlot.Data)
		copy(a.v[i], vSlot.Data)
	}
	a.lr = state.LR
	a.stepCount = state.StepCount
	return nil
}

// ClipGradNorm scales all gradients so their global L2 norm does not exceed
// maxNorm. A non-positive maxNorm disables clipping.
func ClipGradNorm(params []*tensor.Tensor, maxNorm float64) (float64, error) {
	if maxNorm <= 0 {
		return 0, nil
	}

	var sumSq float64
	for _, p := range params {
		if p.Grad() == nil {
			continue
		}
		grad, err := p.Grad().Float32Data()
		if err != nil {
			return 0, errors.Wrap(err, "clip grad norm")
		}
		for _, g := range grad {
			sumSq += float64(g) * float64(g)
		}
	}

	totalNorm := math.Sqrt(sumSq)
	if totalNorm <= maxNorm {
		return totalNorm, nil
	}

	scale := float32(maxNorm / (totalNorm + 1e-6))
	for _, p := range params {
		if p.Grad() == nil {
			continue
		}
		grad, _ := p.Grad().Float32Data()
		for j := range grad {
			grad[j] *= scale
		}
	}
	return totalNorm, nil
}
