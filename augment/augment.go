// Package augment implements the batch-level augmentation strategies used by
// the classification training loop. Each strategy turns a collated batch into
// the model input plus the label mixing needed for its loss computation.
package augment

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

// Type names an augmentation strategy.
type Type string

const (
	None             Type = "none"
	Cutout           Type = "cutout"
	ColorCutoutNoCur Type = "color_cutout_nocur"
	ColorCutoutCur   Type = "color_cutout_cur"
	Mixup            Type = "mixup"
	Cutmix           Type = "cutmix"
)

// Types lists every supported strategy.
func Types() []Type {
	return []Type{None, Cutout, ColorCutoutNoCur, ColorCutoutCur, Mixup, Cutmix}
}

// ParseType validates an augmentation name. Unknown names are a fatal
// configuration error and must be rejected before any forward pass.
func ParseType(s string) (Type, error) {
	for _, t := range Types() {
		if s == string(t) {
			return t, nil
		}
	}
	return "", errors.Errorf("unimplemented augmentation type: %q", s)
}

// Config carries the geometry and mixing parameters shared by strategies.
type Config struct {
	CropSize   int     // side length of the transformed images
	BoxSize    int     // side length of the cutout/cutmix box
	MixupAlpha float64 // Beta(alpha, alpha) concentration for mixup/cutmix
}

// LossSpec describes how the loss must be computed for an augmented batch:
// Weight * CE(logits, labels) + (1-Weight) * CE(logits, PartnerLabels).
// PartnerLabels is nil for strategies that do not mix labels, in which case
// Weight is 1.
type LossSpec struct {
	PartnerLabels *tensor.Tensor
	Weight        float64
}

// Result is the output of a strategy: the model input batch, shaped exactly
// like the original batch, and its loss specification.
type Result struct {
	Images *tensor.Tensor
	Loss   LossSpec
}

// Strategy transforms a collated batch for one training iteration.
type Strategy interface {
	Name() Type
	Apply(images, labels *tensor.Tensor, epoch int, rng *rand.Rand) (*Result, error)
}

// New builds the strategy for t, failing fast on an unknown type.
func New(t Type, cfg Config) (Strategy, error) {
	if cfg.CropSize <= 0 {
		return nil, errors.Errorf("invalid crop size %d", cfg.CropSize)
	}

	switch t {
	case None:
		return &noneStrategy{}, nil
	case Cutout, ColorCutoutNoCur, ColorCutoutCur, Cutmix:
		if cfg.BoxSize <= 0 || cfg.BoxSize > cfg.CropSize {
			return nil, errors.Errorf("augmentation box size %d must be in (0, %d]", cfg.BoxSize, cfg.CropSize)
		}
	}

	switch t {
	case Cutout:
		return &cutoutStrategy{cfg: cfg}, nil
	case ColorCutoutNoCur:
		return &colorCutoutStrategy{cfg: cfg, curriculum: false}, nil
	case ColorCutoutCur:
		return &colorCutoutStrategy{cfg: cfg, curriculum: true}, nil
	case Mixup:
		if cfg.MixupAlpha <= 0 {
			return nil, errors.Errorf("mixup alpha must be positive, got %g", cfg.MixupAlpha)
		}
		return &mixupStrategy{cfg: cfg}, nil
	case Cutmix:
		return &cutmixStrategy{cfg: cfg}, nil
	default:
		return nil, errors.Errorf("unimplemented augmentation type: %q", t)
	}
}
