package training

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/c-juhwan/colorful-cutout-aug/dataset"
)

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testDataset(t *testing.T, numSamples, numClasses int, train bool) *dataset.Dataset {
	t.Helper()
	artifact := &dataset.Artifact{NumClasses: numClasses}
	for i := 0; i < numSamples; i++ {
		shade := uint8(255 * i / numSamples)
		artifact.Images = append(artifact.Images, solidPNG(t, 16, 16, color.RGBA{shade, shade, shade, 255}))
		artifact.Labels = append(artifact.Labels, i%numClasses)
	}
	pipeline, err := dataset.NewPipeline(8, 8, train)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	ds, err := dataset.New(artifact, pipeline)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return ds
}

func collectIndices(t *testing.T, dl *DataLoader) [][]int32 {
	t.Helper()
	var batches [][]int32
	for loaded := range dl.Epoch(context.Background()) {
		if loaded.Err != nil {
			t.Fatalf("epoch batch error: %v", loaded.Err)
		}
		indices, err := loaded.Batch.Indices.Int32Data()
		if err != nil {
			t.Fatalf("Int32Data: %v", err)
		}
		batch := make([]int32, len(indices))
		copy(batch, indices)
		batches = append(batches, batch)
	}
	return batches
}

func TestDataLoaderLen(t *testing.T) {
	ds := testDataset(t, 10, 2, false)

	tests := []struct {
		batchSize int
		dropLast  bool
		want      int
	}{
		{4, true, 2},
		{4, false, 3},
		{5, true, 2},
		{10, false, 1},
		{16, true, 0},
		{16, false, 1},
	}
	for _, tt := range tests {
		dl, err := NewDataLoader(ds, tt.batchSize, false, tt.dropLast, 1, rand.New(rand.NewSource(1)))
		if err != nil {
			t.Fatalf("NewDataLoader: %v", err)
		}
		if got := dl.Len(); got != tt.want {
			t.Errorf("Len(batch=%d dropLast=%v) = %d, want %d", tt.batchSize, tt.dropLast, got, tt.want)
		}
	}
}

func TestDataLoaderSequentialOrder(t *testing.T) {
	// Validation loaders must deliver every sample in dataset order even
	// with several prefetch workers racing.
	ds := testDataset(t, 10, 2, false)
	dl, err := NewDataLoader(ds, 3, false, false, 4, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}

	batches := collectIndices(t, dl)
	if len(batches) != 4 {
		t.Fatalf("got %d batches, want 4", len(batches))
	}

	var flat []int32
	for _, b := range batches {
		flat = append(flat, b...)
	}
	if len(flat) != 10 {
		t.Fatalf("got %d samples, want 10", len(flat))
	}
	for i, idx := range flat {
		if idx != int32(i) {
			t.Fatalf("sample %d has index %d, want %d", i, idx, i)
		}
	}
}

func TestDataLoaderDropLast(t *testing.T) {
	ds := testDataset(t, 10, 2, true)
	dl, err := NewDataLoader(ds, 4, true, true, 2, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}

	batches := collectIndices(t, dl)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	for i, b := range batches {
		if len(b) != 4 {
			t.Errorf("batch %d has %d samples, want 4", i, len(b))
		}
	}
}

func TestDataLoaderShuffleCoversDataset(t *testing.T) {
	ds := testDataset(t, 8, 2, true)
	dl, err := NewDataLoader(ds, 4, true, false, 2, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}

	batches := collectIndices(t, dl)
	seen := make(map[int32]bool)
	for _, b := range batches {
		for _, idx := range b {
			if seen[idx] {
				t.Fatalf("index %d delivered twice", idx)
			}
			seen[idx] = true
		}
	}
	if len(seen) != 8 {
		t.Errorf("epoch covered %d samples, want 8", len(seen))
	}
}

func TestDataLoaderShuffleDeterministicPerSeed(t *testing.T) {
	ds := testDataset(t, 12, 3, true)

	run := func(seed uint64) [][]int32 {
		dl, err := NewDataLoader(ds, 4, true, true, 3, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("NewDataLoader: %v", err)
		}
		return collectIndices(t, dl)
	}

	a, b := run(42), run(42)
	if len(a) != len(b) {
		t.Fatalf("batch counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("batch %d sample %d differs: %d vs %d", i, j, a[i][j], b[i][j])
			}
		}
	}
}

func TestDataLoaderCancel(t *testing.T) {
	ds := testDataset(t, 10, 2, false)
	dl, err := NewDataLoader(ds, 2, false, false, 2, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := dl.Epoch(ctx)
	<-ch
	cancel()

	// The channel must eventually close once the workers observe the
	// cancellation; draining must not hang.
	for range ch {
	}
}

func TestDataLoaderRejectsBadBatchSize(t *testing.T) {
	ds := testDataset(t, 4, 2, false)
	if _, err := NewDataLoader(ds, 0, false, false, 1, rand.New(rand.NewSource(1))); err == nil {
		t.Error("expected error for zero batch size")
	}
}
