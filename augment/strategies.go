package augment

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

func checkBatch(images, labels *tensor.Tensor) error {
	if len(images.Shape) != 4 {
		return errors.Errorf("expected [N,C,H,W] image batch, got shape %v", images.Shape)
	}
	if len(labels.Shape) != 1 || labels.Shape[0] != images.Shape[0] {
		return errors.Errorf("labels shape %v does not match batch size %d", labels.Shape, images.Shape[0])
	}
	return nil
}

// fillRegion writes value(sample, channel) into box for every sample and
// channel of a [N,C,H,W] batch. Box X spans the H axis, Y the W axis.
func fillRegion(images *tensor.Tensor, box Box, value func(sample, channel int) float32) {
	data := images.Data.([]float32)
	n, c, h, w := images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			v := value(i, ch)
			base := (i*c + ch) * h * w
			for y := box.X1; y < box.X2; y++ {
				row := base + y*w
				for x := box.Y1; x < box.Y2; x++ {
					data[row+x] = v
				}
			}
		}
	}
}

// noneStrategy passes the batch through untouched.
type noneStrategy struct{}

func (s *noneStrategy) Name() Type { return None }

func (s *noneStrategy) Apply(images, labels *tensor.Tensor, epoch int, rng *rand.Rand) (*Result, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}
	return &Result{Images: images, Loss: LossSpec{Weight: 1}}, nil
}

// cutoutStrategy zeroes one random box, shared across the batch.
type cutoutStrategy struct {
	cfg Config
}

func (s *cutoutStrategy) Name() Type { return Cutout }

func (s *cutoutStrategy) Apply(images, labels *tensor.Tensor, epoch int, rng *rand.Rand) (*Result, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}

	box, err := RandomBox(s.cfg.CropSize, s.cfg.BoxSize, rng)
	if err != nil {
		return nil, err
	}

	masked, err := images.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "cutout")
	}
	fillRegion(masked, box, func(int, int) float32 { return 0 })

	return &Result{Images: masked, Loss: LossSpec{Weight: 1}}, nil
}

// colorCutoutStrategy fills one random box with independent random colors per
// sample. The curriculum variant subdivides the box into progressively
// smaller regions as training advances, each with its own random color.
type colorCutoutStrategy struct {
	cfg        Config
	curriculum bool
}

func (s *colorCutoutStrategy) Name() Type {
	if s.curriculum {
		return ColorCutoutCur
	}
	return ColorCutoutNoCur
}

func (s *colorCutoutStrategy) Apply(images, labels *tensor.Tensor, epoch int, rng *rand.Rand) (*Result, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}

	box, err := RandomBox(s.cfg.CropSize, s.cfg.BoxSize, rng)
	if err != nil {
		return nil, err
	}

	masked, err := images.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "color cutout")
	}

	n, c := images.Shape[0], images.Shape[1]
	randomColor := func(rng *rand.Rand) func(int, int) float32 {
		colors := make([]float32, n*c)
		for i := range colors {
			colors[i] = float32(rng.Float64())
		}
		return func(sample, channel int) float32 { return colors[sample*c+channel] }
	}

	if !s.curriculum {
		fillRegion(masked, box, randomColor(rng))
		return &Result{Images: masked, Loss: LossSpec{Weight: 1}}, nil
	}

	// Region granularity halves each epoch. The divisor can reach zero for
	// large epoch indices, so the region size is clamped at one pixel.
	regionSize := s.cfg.BoxSize >> uint(epoch)
	if regionSize < 1 {
		regionSize = 1
	}
	regionAmount := s.cfg.BoxSize / regionSize

	for i := 0; i < regionAmount*regionAmount; i++ {
		region := Box{
			X1: box.X1 + regionSize*(i/regionAmount),
			X2: box.X1 + regionSize*(i/regionAmount+1),
			Y1: box.Y1 + regionSize*(i%regionAmount),
			Y2: box.Y1 + regionSize*(i%regionAmount+1),
		}
		fillRegion(masked, region, randomColor(rng))
	}

	return &Result{Images: masked, Loss: LossSpec{Weight: 1}}, nil
}

// sampleMixRatio draws from Beta(alpha, alpha) and biases toward the dominant
// image, so the ratio is always >= 0.5.
func sampleMixRatio(alpha float64, rng *rand.Rand) float64 {
	beta := distuv.Beta{Alpha: alpha, Beta: alpha, Src: rng}
	ratio := beta.Rand()
	if ratio < 1-ratio {
		ratio = 1 - ratio
	}
	return ratio
}

// permuteLabels returns labels reordered by perm as a new tensor.
func permuteLabels(labels *tensor.Tensor, perm []int) (*tensor.Tensor, error) {
	src, err := labels.Int32Data()
	if err != nil {
		return nil, err
	}
	dst := make([]int32, len(src))
	for i, p := range perm {
		dst[i] = src[p]
	}
	return tensor.NewTensor(labels.Shape, tensor.Int32, labels.Device, dst)
}

// mixupStrategy blends each image with a randomly permuted partner.
type mixupStrategy struct {
	cfg Config
}

func (s *mixupStrategy) Name() Type { return Mixup }

func (s *mixupStrategy) Apply(images, labels *tensor.Tensor, epoch int, rng *rand.Rand) (*Result, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}

	ratio := sampleMixRatio(s.cfg.MixupAlpha, rng)
	perm := rng.Perm(images.Shape[0])

	data := images.Data.([]float32)
	sampleSize := images.NumElems / images.Shape[0]

	mixed := make([]float32, len(data))
	r := float32(ratio)
	for i, p := range perm {
		own := data[i*sampleSize : (i+1)*sampleSize]
		partner := data[p*sampleSize : (p+1)*sampleSize]
		out := mixed[i*sampleSize : (i+1)*sampleSize]
		for j := range out {
			out[j] = r*own[j] + (1-r)*partner[j]
		}
	}

	mixedT, err := tensor.NewTensor(images.Shape, tensor.Float32, images.Device, mixed)
	if err != nil {
		return nil, errors.Wrap(err, "mixup")
	}
	partnerLabels, err := permuteLabels(labels, perm)
	if err != nil {
		return nil, errors.Wrap(err, "mixup")
	}

	return &Result{Images: mixedT, Loss: LossSpec{PartnerLabels: partnerLabels, Weight: ratio}}, nil
}

// cutmixStrategy pastes a random box from a permuted partner image. The
// mixing weight comes from the pasted area fraction, not the Beta draw.
type cutmixStrategy struct {
	cfg Config
}

func (s *cutmixStrategy) Name() Type { return Cutmix }

func (s *cutmixStrategy) Apply(images, labels *tensor.Tensor, epoch int, rng *rand.Rand) (*Result, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}

	perm := rng.Perm(images.Shape[0])
	box, err := RandomBox(s.cfg.CropSize, s.cfg.BoxSize, rng)
	if err != nil {
		return nil, err
	}

	mixed, err := images.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "cutmix")
	}

	src := images.Data.([]float32)
	dst := mixed.Data.([]float32)
	c, h, w := images.Shape[1], images.Shape[2], images.Shape[3]
	for i, p := range perm {
		for ch := 0; ch < c; ch++ {
			srcBase := (p*c + ch) * h * w
			dstBase := (i*c + ch) * h * w
			for y := box.X1; y < box.X2; y++ {
				copy(dst[dstBase+y*w+box.Y1:dstBase+y*w+box.Y2], src[srcBase+y*w+box.Y1:srcBase+y*w+box.Y2])
			}
		}
	}

	weight := 1 - float64(box.Area())/float64(h*w)

	partnerLabels, err := permuteLabels(labels, perm)
	if err != nil {
		return nil, errors.Wrap(err, "cutmix")
	}

	return &Result{Images: mixed, Loss: LossSpec{PartnerLabels: partnerLabels, Weight: weight}}, nil
}
