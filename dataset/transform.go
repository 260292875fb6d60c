package dataset

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

// Normalization constants matching the pretrained backbone's expected input
// distribution. Changing the backbone requires changing these.
var (
	NormMean = [3]float32{0.485, 0.456, 0.406}
	NormStd  = [3]float32{0.229, 0.224, 0.225}
)

// Pipeline converts a decoded RGB image into a normalized CHW tensor. The
// train pipeline uses a random crop and random horizontal flip; the eval
// pipeline uses a deterministic center crop.
type Pipeline struct {
	ResizeSize int
	CropSize   int
	Train      bool
}

// NewPipeline builds a transform pipeline for the given split.
func NewPipeline(resizeSize, cropSize int, train bool) (*Pipeline, error) {
	if resizeSize <= 0 || cropSize <= 0 {
		return nil, errors.Errorf("invalid transform sizes: resize %d, crop %d", resizeSize, cropSize)
	}
	if cropSize > resizeSize {
		return nil, errors.Errorf("crop size %d exceeds resize size %d", cropSize, resizeSize)
	}
	return &Pipeline{ResizeSize: resizeSize, CropSize: cropSize, Train: train}, nil
}

// Apply runs the pipeline on img. The rng drives crop position and flip for
// the train pipeline and may be nil for eval.
func (p *Pipeline) Apply(img *image.RGBA, rng *rand.Rand) (*tensor.Tensor, error) {
	if p.Train && rng == nil {
		return nil, errors.New("train pipeline requires a random source")
	}

	maxOffset := p.ResizeSize - p.CropSize
	var offX, offY int
	flip := false
	if p.Train {
		if maxOffset > 0 {
			offX = rng.Intn(maxOffset + 1)
			offY = rng.Intn(maxOffset + 1)
		}
		flip = rng.Float64() < 0.5
	} else {
		offX = maxOffset / 2
		offY = maxOffset / 2
	}

	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, errors.New("empty source image")
	}

	crop := p.CropSize
	plane := crop * crop
	data := make([]float32, 3*plane)

	// Resize to ResizeSize x ResizeSize and crop in a single pass.
	for y := 0; y < crop; y++ {
		srcY := (y + offY) * srcH / p.ResizeSize
		if srcY >= srcH {
			srcY = srcH - 1
		}
		for x := 0; x < crop; x++ {
			outX := x
			if flip {
				outX = crop - 1 - x
			}
			srcX := (x + offX) * srcW / p.ResizeSize
			if srcX >= srcW {
				srcX = srcW - 1
			}

			i := img.PixOffset(bounds.Min.X+srcX, bounds.Min.Y+srcY)
			r := float32(img.Pix[i]) / 255.0
			g := float32(img.Pix[i+1]) / 255.0
			b := float32(img.Pix[i+2]) / 255.0

			idx := y*crop + outX
			data[0*plane+idx] = (r - NormMean[0]) / NormStd[0]
			data[1*plane+idx] = (g - NormMean[1]) / NormStd[1]
			data[2*plane+idx] = (b - NormMean[2]) / NormStd[2]
		}
	}

	return tensor.NewTensor([]int{3, crop, crop}, tensor.Float32, tensor.CPU, data)
}
