package dataset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func encodeSolidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func makeArtifact(t *testing.T, numSamples, numClasses int) *Artifact {
	t.Helper()
	artifact := &Artifact{NumClasses: numClasses}
	for i := 0; i < numSamples; i++ {
		shade := uint8(40 * (i%numClasses + 1))
		artifact.Images = append(artifact.Images, encodeSolidPNG(t, 16, 16, color.RGBA{shade, shade, shade, 255}))
		artifact.Labels = append(artifact.Labels, i%numClasses)
	}
	return artifact
}

func TestArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := ArtifactPath(dir, "classification", "toy", "resnet", "train")
	require.Equal(t, filepath.Join(dir, "classification", "toy", "resnet", "train_processed.gob"), path)

	artifact := makeArtifact(t, 4, 2)
	require.NoError(t, SaveArtifact(artifact, path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	require.Equal(t, artifact.NumClasses, loaded.NumClasses)
	require.Equal(t, artifact.Labels, loaded.Labels)
	require.Len(t, loaded.Images, 4)
}

func TestLoadArtifactMissingPathContext(t *testing.T) {
	_, err := LoadArtifact("/nonexistent/train_processed.gob")
	require.Error(t, err)
	require.Contains(t, err.Error(), "/nonexistent/train_processed.gob")
}

func TestPipelineOutputShape(t *testing.T) {
	artifact := makeArtifact(t, 2, 2)
	pipeline, err := NewPipeline(16, 12, true)
	require.NoError(t, err)

	ds, err := New(artifact, pipeline)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	sample, err := ds.Get(0, rng)
	require.NoError(t, err)
	require.Equal(t, []int{3, 12, 12}, sample.Image.Shape)
	require.Equal(t, 0, sample.Label)
	require.Equal(t, 0, sample.Index)
}

func TestCenterCropIsDeterministic(t *testing.T) {
	artifact := makeArtifact(t, 1, 2)
	pipeline, err := NewPipeline(16, 12, false)
	require.NoError(t, err)

	ds, err := New(artifact, pipeline)
	require.NoError(t, err)

	a, err := ds.Get(0, nil)
	require.NoError(t, err)
	b, err := ds.Get(0, nil)
	require.NoError(t, err)

	aData, _ := a.Image.Float32Data()
	bData, _ := b.Image.Float32Data()
	require.Equal(t, aData, bData)
}

func TestNormalizationValues(t *testing.T) {
	// A solid mid-gray image: every normalized value must be
	// (0.5 - mean) / std per channel, within 8-bit quantization error.
	artifact := &Artifact{
		NumClasses: 2,
		Images:     [][]byte{encodeSolidPNG(t, 8, 8, color.RGBA{128, 128, 128, 255})},
		Labels:     []int{0},
	}
	pipeline, err := NewPipeline(8, 8, false)
	require.NoError(t, err)

	ds, err := New(artifact, pipeline)
	require.NoError(t, err)

	sample, err := ds.Get(0, nil)
	require.NoError(t, err)
	data, _ := sample.Image.Float32Data()

	plane := 8 * 8
	raw := float32(128) / 255.0
	for c := 0; c < 3; c++ {
		expected := (raw - NormMean[c]) / NormStd[c]
		require.InDelta(t, float64(expected), float64(data[c*plane]), 1e-5)
	}
}

func TestInvalidLabelRejected(t *testing.T) {
	artifact := &Artifact{
		NumClasses: 2,
		Images:     [][]byte{encodeSolidPNG(t, 8, 8, color.RGBA{1, 2, 3, 255})},
		Labels:     []int{5},
	}
	pipeline, err := NewPipeline(8, 8, false)
	require.NoError(t, err)

	_, err = New(artifact, pipeline)
	require.Error(t, err)
}

func TestCollate(t *testing.T) {
	artifact := makeArtifact(t, 3, 3)
	pipeline, err := NewPipeline(16, 8, false)
	require.NoError(t, err)

	ds, err := New(artifact, pipeline)
	require.NoError(t, err)

	var samples []Sample
	for i := 0; i < ds.Len(); i++ {
		s, err := ds.Get(i, nil)
		require.NoError(t, err)
		samples = append(samples, s)
	}

	batch, err := Collate(samples)
	require.NoError(t, err)
	require.Equal(t, []int{3, 3, 8, 8}, batch.Images.Shape)
	require.Equal(t, 3, batch.Size())

	labels, _ := batch.Labels.Int32Data()
	require.Equal(t, []int32{0, 1, 2}, labels)

	indices, _ := batch.Indices.Int32Data()
	require.Equal(t, []int32{0, 1, 2}, indices)

	_, err = Collate(nil)
	require.Error(t, err)
}

func TestCropLargerThanResizeRejected(t *testing.T) {
	_, err := NewPipeline(8, 16, true)
	require.Error(t, err)
}
