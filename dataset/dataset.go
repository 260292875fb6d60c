package dataset

import (
	"bytes"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

// Sample is one transformed item: a normalized [3,H,W] image tensor, its
// class label, and its position in the underlying collection.
type Sample struct {
	Image *tensor.Tensor
	Label int
	Index int
}

// Dataset is an in-memory indexed collection of classification samples.
// Construction eagerly decodes every image to RGB and retains it, so the
// dataset must fit in memory.
type Dataset struct {
	numClasses int
	images     []*image.RGBA
	labels     []int
	pipeline   *Pipeline
}

// New decodes every image in the artifact and attaches the transform
// pipeline for the split.
func New(artifact *Artifact, pipeline *Pipeline) (*Dataset, error) {
	ds := &Dataset{
		numClasses: artifact.NumClasses,
		images:     make([]*image.RGBA, len(artifact.Images)),
		labels:     make([]int, len(artifact.Labels)),
		pipeline:   pipeline,
	}

	for i, raw := range artifact.Images {
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "decode image %d", i)
		}
		ds.images[i] = toRGBA(img)

		label := artifact.Labels[i]
		if label < 0 || label >= artifact.NumClasses {
			return nil, errors.Errorf("image %d: label %d out of range [0, %d)", i, label, artifact.NumClasses)
		}
		ds.labels[i] = label
	}

	return ds, nil
}

// Load reads a split artifact and builds its dataset with the appropriate
// transform pipeline. The train split gets random crop and flip; other
// splits get a deterministic center crop.
func Load(path string, resizeSize, cropSize int, train bool) (*Dataset, error) {
	artifact, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}

	pipeline, err := NewPipeline(resizeSize, cropSize, train)
	if err != nil {
		return nil, err
	}

	return New(artifact, pipeline)
}

// Len returns the number of samples.
func (ds *Dataset) Len() int {
	return len(ds.images)
}

// NumClasses returns the label cardinality declared by the artifact.
func (ds *Dataset) NumClasses() int {
	return ds.numClasses
}

// Get transforms and returns the sample at idx. The rng drives the train
// pipeline's random crop and flip and may be nil for eval splits.
func (ds *Dataset) Get(idx int, rng *rand.Rand) (Sample, error) {
	if idx < 0 || idx >= len(ds.images) {
		return Sample{}, errors.Errorf("sample index %d out of range [0, %d)", idx, len(ds.images))
	}

	img, err := ds.pipeline.Apply(ds.images[idx], rng)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "transform sample %d", idx)
	}

	return Sample{Image: img, Label: ds.labels[idx], Index: idx}, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

// Batch holds stacked samples: Images [N,3,H,W], Labels [N], Indices [N].
// Ordering within a batch is the order samples were drawn.
type Batch struct {
	Images  *tensor.Tensor
	Labels  *tensor.Tensor
	Indices *tensor.Tensor
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.Images.Shape[0]
}

// Collate stacks samples into batch tensors. All samples must share the same
// post-transform shape.
func Collate(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("cannot collate an empty batch")
	}

	first := samples[0].Image
	sampleSize := first.NumElems

	imageShape := append([]int{len(samples)}, first.Shape...)
	images := make([]float32, len(samples)*sampleSize)
	labels := make([]int32, len(samples))
	indices := make([]int32, len(samples))

	for i, s := range samples {
		if !s.Image.SameShape(first) {
			return nil, errors.Errorf("sample %d shape %v differs from batch shape %v", i, s.Image.Shape, first.Shape)
		}
		data, err := s.Image.Float32Data()
		if err != nil {
			return nil, errors.Wrapf(err, "collate sample %d", i)
		}
		copy(images[i*sampleSize:(i+1)*sampleSize], data)
		labels[i] = int32(s.Label)
		indices[i] = int32(s.Index)
	}

	imagesT, err := tensor.NewTensor(imageShape, tensor.Float32, tensor.CPU, images)
	if err != nil {
		return nil, errors.Wrap(err, "collate images")
	}
	labelsT, err := tensor.NewTensor([]int{len(samples)}, tensor.Int32, tensor.CPU, labels)
	if err != nil {
		return nil, errors.Wrap(err, "collate labels")
	}
	indicesT, err := tensor.NewTensor([]int{len(samples)}, tensor.Int32, tensor.CPU, indices)
	if err != nil {
		return nil, errors.Wrap(err, "collate indices")
	}

	return &Batch{Images: imagesT, Labels: labelsT, Indices: indicesT}, nil
}
