package augment

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

// Box is an axis-aligned square region within a crop, with half-open
// coordinate ranges [X1,X2) x [Y1,Y2).
type Box struct {
	X1, X2 int
	Y1, Y2 int
}

// Area returns the number of pixels covered by the box.
func (b Box) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// RandomBox draws a boxSize box with a uniform-random top-left corner such
// that the box fits entirely within a cropSize crop.
func RandomBox(cropSize, boxSize int, rng *rand.Rand) (Box, error) {
	if boxSize <= 0 || boxSize > cropSize {
		return Box{}, errors.Errorf("box size %d must be in (0, %d]", boxSize, cropSize)
	}

	var x1, y1 int
	if cropSize > boxSize {
		x1 = rng.Intn(cropSize - boxSize)
		y1 = rng.Intn(cropSize - boxSize)
	}

	return Box{X1: x1, X2: x1 + boxSize, Y1: y1, Y2: y1 + boxSize}, nil
}
