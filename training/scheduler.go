package training

import (
	"math"

	"github.com/pkg/errors"

	"github.com/c-juhwan/colorful-cutout-aug/checkpoints"
)

// SchedulerKind names a supported learning-rate schedule.
type SchedulerKind string

const (
	NoScheduler                 SchedulerKind = "None"
	StepLR                      SchedulerKind = "StepLR"
	CosineAnnealingLR           SchedulerKind = "CosineAnnealingLR"
	CosineAnnealingWarmRestarts SchedulerKind = "CosineAnnealingWarmRestarts"
	LambdaLR                    SchedulerKind = "LambdaLR"
	ReduceLROnPlateau           SchedulerKind = "ReduceLROnPlateau"
)

// ParseSchedulerKind validates a scheduler name. Unknown names are a fatal
// configuration error.
func ParseSchedulerKind(s string) (SchedulerKind, error) {
	switch SchedulerKind(s) {
	case NoScheduler, StepLR, CosineAnnealingLR, CosineAnnealingWarmRestarts, LambdaLR, ReduceLROnPlateau:
		return SchedulerKind(s), nil
	default:
		return "", errors.Errorf("unimplemented scheduler: %q", s)
	}
}

// StepsPerIteration reports whether the scheduler advances after every
// training iteration. The remaining kinds advance once per epoch, after
// validation. This distinction must be preserved per kind.
func (k SchedulerKind) StepsPerIteration() bool {
	switch k {
	case StepLR, CosineAnnealingLR, CosineAnnealingWarmRestarts:
		return true
	default:
		return false
	}
}

// Scheduler adjusts the learning rate over the course of training. Step
// advances one tick; the metric argument is consulted only by the plateau
// scheduler and ignored elsewhere.
type Scheduler interface {
	Kind() SchedulerKind
	Step(metric float64)
	LR() float64
	StateDict() *checkpoints.SchedulerState
	LoadStateDict(state *checkpoints.SchedulerState) error
}

// NewScheduler builds the scheduler for kind. itersPerEpoch and numEpochs
// size the horizon of the step-based schedules; patience seeds the plateau
// schedule.
func NewScheduler(kind SchedulerKind, baseLR float64, itersPerEpoch, numEpochs, patience int) (Scheduler, error) {
	if itersPerEpoch < 1 {
		itersPerEpoch = 1
	}

	switch kind {
	case NoScheduler:
		return &noopScheduler{lr: baseLR}, nil
	case StepLR:
		stepSize := itersPerEpoch * numEpochs / 3
		if stepSize < 1 {
			stepSize = 1
		}
		return &stepScheduler{kind: StepLR, baseLR: baseLR, stepSize: stepSize, gamma: 0.1}, nil
	case CosineAnnealingLR:
		return &cosineScheduler{baseLR: baseLR, tMax: itersPerEpoch * numEpochs}, nil
	case CosineAnnealingWarmRestarts:
		return &warmRestartScheduler{baseLR: baseLR, t0: itersPerEpoch, tMult: 2, tI: itersPerEpoch}, nil
	case LambdaLR:
		return &lambdaScheduler{baseLR: baseLR, gamma: 0.95}, nil
	case ReduceLROnPlateau:
		p := patience / 2
		if p < 1 {
			p = 1
		}
		return &plateauScheduler{baseLR: baseLR, currentLR: baseLR, factor: 0.1, patience: p, threshold: 1e-4}, nil
	default:
		return nil, errors.Errorf("unimplemented scheduler: %q", kind)
	}
}

// noopScheduler keeps the learning rate constant.
type noopScheduler struct {
	lr float64
}

func (s *noopScheduler) Kind() SchedulerKind { return NoScheduler }
func (s *noopScheduler) Step(float64)        {}
func (s *noopScheduler) LR() float64         { return s.lr }

func (s *noopScheduler) StateDict() *checkpoints.SchedulerState {
	return &checkpoints.SchedulerState{Kind: string(NoScheduler), CurrentLR: s.lr}
}

func (s *noopScheduler) LoadStateDict(state *checkpoints.SchedulerState) error {
	if state.Kind != string(NoScheduler) {
		return errors.Errorf("checkpoint scheduler kind %q does not match %q", state.Kind, NoScheduler)
	}
	s.lr = state.CurrentLR
	return nil
}

// stepScheduler reduces the rate by gamma every stepSize ticks.
type stepScheduler struct {
	kind     SchedulerKind
	baseLR   float64
	stepSize int
	gamma    float64
	tick     int
}

func (s *stepScheduler) Kind() SchedulerKind { return s.kind }
func (s *stepScheduler) Step(float64)        { s.tick++ }

func (s *stepScheduler) LR() float64 {
	times := s.tick / s.stepSize
	return s.baseLR * math.Pow(s.gamma, float64(times))
}

func (s *stepScheduler) StateDict() *checkpoints.SchedulerState {
	return &checkpoints.SchedulerState{Kind: string(s.kind), Tick: s.tick, CurrentLR: s.LR()}
}

func (s *stepScheduler) LoadStateDict(state *checkpoints.SchedulerState) error {
	if state.Kind != string(s.kind) {
		return errors.Errorf("checkpoint scheduler kind %q does not match %q", state.Kind, s.kind)
	}
	s.tick = state.Tick
	return nil
}

// cosineScheduler anneals the rate along a half cosine over tMax ticks.
type cosineScheduler struct {
	baseLR float64
	etaMin float64
	tMax   int
	tick   int
}

func (s *cosineScheduler) Kind() SchedulerKind { return CosineAnnealingLR }
func (s *cosineScheduler) Step(float64)        { s.tick++ }

func (s *cosineScheduler) LR() float64 {
	if s.tick >= s.tMax {
		return s.etaMin
	}
	return s.etaMin + (s.baseLR-s.etaMin)*(1+math.Cos(math.Pi*float64(s.tick)/float64(s.tMax)))/2
}

func (s *cosineScheduler) StateDict() *checkpoints.SchedulerState {
	return &checkpoints.SchedulerState{Kind: string(CosineAnnealingLR), Tick: s.tick, CurrentLR: s.LR()}
}

func (s *cosineScheduler) LoadStateDict(state *checkpoints.SchedulerState) error {
	if state.Kind != string(CosineAnnealingLR) {
		return errors.Errorf("checkpoint scheduler kind %q does not match %q", state.Kind, CosineAnnealingLR)
	}
	s.tick = state.Tick
	return nil
}

// warmRestartScheduler restarts the cosine annealing with a doubling period.
type warmRestartScheduler struct {
	baseLR float64
	etaMin float64
	t0     int
	tMult  int
	tCur   int
	tI     int
}

func (s *warmRestartScheduler) Kind() SchedulerKind { return CosineAnnealingWarmRestarts }

func (s *warmRestartScheduler) Step(float64) {
	s.tCur++
	if s.tCur >= s.tI {
		s.tCur = 0
		s.tI *= s.tMult
	}
}

func (s *warmRestartScheduler) LR() float64 {
	return s.etaMin + (s.baseLR-s.etaMin)*(1+math.Cos(math.Pi*float64(s.tCur)/float64(s.tI)))/2
}

func (s *warmRestartScheduler) StateDict() *checkpoints.SchedulerState {
	return &checkpoints.SchedulerState{
		Kind:      string(CosineAnnealingWarmRestarts),
		TCur:      s.tCur,
		TI:        s.tI,
		CurrentLR: s.LR(),
	}
}

func (s *warmRestartScheduler) LoadStateDict(state *checkpoints.SchedulerState) error {
	if state.Kind != string(CosineAnnealingWarmRestarts) {
		return errors.Errorf("checkpoint scheduler kind %q does not match %q", state.Kind, CosineAnnealingWarmRestarts)
	}
	s.tCur = state.TCur
	if state.TI > 0 {
		s.tI = state.TI
	}
	return nil
}

// lambdaScheduler decays the rate by a per-epoch multiplicative factor.
type lambdaScheduler struct {
	baseLR float64
	gamma  float64
	tick   int
}

func (s *lambdaScheduler) Kind() SchedulerKind { return LambdaLR }
func (s *lambdaScheduler) Step(float64)        { s.tick++ }

func (s *lambdaScheduler) LR() float64 {
	return s.baseLR * math.Pow(s.gamma, float64(s.tick))
}

func (s *lambdaScheduler) StateDict() *checkpoints.SchedulerState {
	return &checkpoints.SchedulerState{Kind: string(LambdaLR), Tick: s.tick, CurrentLR: s.LR()}
}

func (s *lambdaScheduler) LoadStateDict(state *checkpoints.SchedulerState) error {
	if state.Kind != string(LambdaLR) {
		return errors.Errorf("checkpoint scheduler kind %q does not match %q", state.Kind, LambdaLR)
	}
	s.tick = state.Tick
	return nil
}

// plateauScheduler reduces the rate when the validation loss stops
// improving.
type plateauScheduler struct {
	baseLR      float64
	currentLR   float64
	factor      float64
	patience    int
	threshold   float64
	bestMetric  float64
	badEpochs   int
	initialized bool
}

func (s *plateauScheduler) Kind() SchedulerKind { return ReduceLROnPlateau }

func (s *plateauScheduler) Step(metric float64) {
	if !s.initialized {
		s.bestMetric = metric
		s.initialized = true
		return
	}

	if metric < s.bestMetric-s.threshold {
		s.bestMetric = metric
		s.badEpochs = 0
		return
	}

	s.badEpochs++
	if s.badEpochs >= s.patience {
		s.currentLR *= s.factor
		s.badEpochs = 0
	}
}

func (s *plateauScheduler) LR() float64 { return s.currentLR }

func (s *plateauScheduler) StateDict() *checkpoints.SchedulerState {
	return &checkpoints.SchedulerState{
		Kind:        string(ReduceLROnPlateau),
		BestMetric:  s.bestMetric,
		BadEpochs:   s.badEpochs,
		CurrentLR:   s.currentLR,
		Initialized: s.initialized,
	}
}

func (s *plateauScheduler) LoadStateDict(state *checkpoints.SchedulerState) error {
	if state.Kind != string(ReduceLROnPlateau) {
		return errors.Errorf("checkpoint scheduler kind %q does not match %q", state.Kind, ReduceLROnPlateau)
	}
	s.bestMetric = state.BestMetric
	s.badEpochs = state.BadEpochs
	if state.CurrentLR > 0 {
		s.currentLR = state.CurrentLR
	}
	s.initialized = state.Initialized
	return nil
}
