package training

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"github.com/c-juhwan/colorful-cutout-aug/dataset"
)

// DataLoader batches a dataset for one split. Sample transforms run on a
// pool of workers, but batches are always delivered in their epoch order:
// shuffled for the train split, sequential for validation.
type DataLoader struct {
	dataset    *dataset.Dataset
	batchSize  int
	shuffle    bool
	dropLast   bool
	numWorkers int
	rng        *rand.Rand

	mu      sync.Mutex
	indices []int
}

// NewDataLoader creates a loader. The rng drives epoch shuffling and seeds
// the per-worker transform generators; it must not be shared with other
// components.
func NewDataLoader(ds *dataset.Dataset, batchSize int, shuffle, dropLast bool, numWorkers int, rng *rand.Rand) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:    ds,
		batchSize:  batchSize,
		shuffle:    shuffle,
		dropLast:   dropLast,
		numWorkers: numWorkers,
		rng:        rng,
		indices:    indices,
	}, nil
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	n := len(dl.indices)
	if dl.dropLast {
		return n / dl.batchSize
	}
	return (n + dl.batchSize - 1) / dl.batchSize
}

// LoadedBatch is one prefetched batch or the error that produced it.
type LoadedBatch struct {
	Batch *dataset.Batch
	Err   error
}

type batchJob struct {
	seq     int
	indices []int
}

type seqResult struct {
	seq   int
	batch *dataset.Batch
	err   error
}

// Epoch returns a channel delivering every batch of one epoch in order. The
// context cancels the background workers if the consumer abandons the epoch.
func (dl *DataLoader) Epoch(ctx context.Context) <-chan LoadedBatch {
	dl.mu.Lock()
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}

	numBatches := dl.Len()
	jobs := make([]batchJob, 0, numBatches)
	for b := 0; b < numBatches; b++ {
		start := b * dl.batchSize
		end := start + dl.batchSize
		if end > len(dl.indices) {
			end = len(dl.indices)
		}
		batchIndices := make([]int, end-start)
		copy(batchIndices, dl.indices[start:end])
		jobs = append(jobs, batchJob{seq: b, indices: batchIndices})
	}

	workerSeeds := make([]uint64, dl.numWorkers)
	for i := range workerSeeds {
		workerSeeds[i] = dl.rng.Uint64()
	}
	dl.mu.Unlock()

	jobChan := make(chan batchJob)
	resultChan := make(chan seqResult, dl.numWorkers)
	out := make(chan LoadedBatch, 2)

	var wg sync.WaitGroup
	for w := 0; w < dl.numWorkers; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			workerRng := rand.New(rand.NewSource(seed))
			for job := range jobChan {
				batch, err := dl.loadBatch(job.indices, workerRng)
				select {
				case resultChan <- seqResult{seq: job.seq, batch: batch, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}(workerSeeds[w])
	}

	go func() {
		defer close(jobChan)
		for _, job := range jobs {
			select {
			case jobChan <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// Sequencer: re-emit completed batches in strict epoch order.
	go func() {
		defer close(out)
		pending := make(map[int]seqResult, dl.numWorkers)
		next := 0
		for result := range resultChan {
			pending[result.seq] = result
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case out <- LoadedBatch{Batch: r.batch, Err: r.err}:
				case <-ctx.Done():
					return
				}
				next++
			}
		}
	}()

	return out
}

func (dl *DataLoader) loadBatch(indices []int, rng *rand.Rand) (*dataset.Batch, error) {
	samples := make([]dataset.Sample, len(indices))
	for i, idx := range indices {
		sample, err := dl.dataset.Get(idx, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "load sample %d", idx)
		}
		samples[i] = sample
	}

	batch, err := dataset.Collate(samples)
	if err != nil {
		return nil, errors.Wrap(err, "collate batch")
	}
	return batch, nil
}
