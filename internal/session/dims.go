package session

import (
	"fmt"
	"time"
)

// Model tensor contract.
const (
	ImageSize         = 224
	ImageChannels     = 3
	MaxSequenceLength = 300
	VocabSize         = 6144
	HiddenSize        = 768

	PadToken   int32 = 0
	StartToken int32 = 2
	EndToken   int32 = 3
)

const (
	// DefaultLatencyBudget is the advisory per-stage latency budget. Exceeding
	// it only produces a warning.
	DefaultLatencyBudget = 500 * time.Millisecond
	// DefaultReleaseDelay is the pause after releasing GPU resources that lets
	// the driver reclaim device memory before a re-initialization.
	DefaultReleaseDelay = 100 * time.Millisecond
)

// ModelDims are the shape parameters of the encoder/decoder pair.
type ModelDims struct {
	ImageSize         int
	MaxSequenceLength int
	VocabSize         int
	HiddenSize        int
}

// DefaultDims returns the dimensions of the production models.
func DefaultDims() ModelDims {
	return ModelDims{
		ImageSize:         ImageSize,
		MaxSequenceLength: MaxSequenceLength,
		VocabSize:         VocabSize,
		HiddenSize:        HiddenSize,
	}
}

// ImageFloats is the element count of one image tensor (HWC, 3 channels).
func (d ModelDims) ImageFloats() int {
	return d.ImageSize * d.ImageSize * ImageChannels
}

// Validate checks that the dimensions can hold the control tokens.
func (d ModelDims) Validate() error {
	if d.ImageSize <= 0 || d.HiddenSize <= 0 {
		return fmt.Errorf("image size and hidden size must be positive: %+v", d)
	}
	if d.MaxSequenceLength < 2 {
		return fmt.Errorf("max sequence length must be at least 2, got %d", d.MaxSequenceLength)
	}
	if d.VocabSize <= int(EndToken) {
		return fmt.Errorf("vocab size must exceed the end token id, got %d", d.VocabSize)
	}
	return nil
}
