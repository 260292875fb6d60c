package nn

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

// NewClassifier builds the classification head used by the training loop: a
// flatten stage followed by a single hidden layer MLP over the image tensor.
// Input images are [N, channels, size, size].
func NewClassifier(channels, imageSize, hiddenSize, numClasses int, rng *rand.Rand) (*Sequential, error) {
	if numClasses < 2 {
		return nil, errors.Errorf("classifier needs at least 2 classes, got %d", numClasses)
	}

	inputSize := channels * imageSize * imageSize

	hidden, err := NewLinear(inputSize, hiddenSize, true, rng)
	if err != nil {
		return nil, errors.Wrap(err, "build hidden layer")
	}
	output, err := NewLinear(hiddenSize, numClasses, true, rng)
	if err != nil {
		return nil, errors.Wrap(err, "build output layer")
	}

	return NewSequential(NewFlatten(), hidden, NewReLU(), output), nil
}
