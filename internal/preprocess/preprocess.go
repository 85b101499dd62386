// Package preprocess turns encoded images into the encoder's input tensor.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"

	_ "golang.org/x/image/bmp" // Register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Channels is the number of color channels in the output tensor.
const Channels = 3

// Each 8-bit channel value v maps to v/127.5 - 1, i.e. [0, 255] -> [-1, 1].
const (
	scale  = float32(1.0 / 127.5)
	offset = float32(1.0)
)

// DefaultMaxPixels bounds the canvas an encoded image may declare.
const DefaultMaxPixels = 40_000_000

var (
	// ErrEmptyImage is returned for images with no pixels.
	ErrEmptyImage = errors.New("image has no pixels")
	// ErrImageTooLarge is returned before decoding when the declared canvas
	// exceeds the pixel limit.
	ErrImageTooLarge = errors.New("image exceeds pixel limit")
)

// ImagePreprocessor scales images to a square and flattens them in HWC
// order.
type ImagePreprocessor struct {
	size      int
	maxPixels int64
}

// New returns a preprocessor producing size×size×3 tensors with the
// default pixel limit.
func New(size int) *ImagePreprocessor {
	return NewWithLimit(size, DefaultMaxPixels)
}

// NewWithLimit is New with a bound on width×height of encoded input.
// maxPixels <= 0 selects DefaultMaxPixels.
func NewWithLimit(size, maxPixels int) *ImagePreprocessor {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &ImagePreprocessor{size: size, maxPixels: int64(maxPixels)}
}

// MaxPixels is the largest canvas ProcessBytes accepts.
func (p *ImagePreprocessor) MaxPixels() int { return int(p.maxPixels) }

// Size is the output edge length in pixels.
func (p *ImagePreprocessor) Size() int { return p.size }

// TensorLen is the number of floats Process returns.
func (p *ImagePreprocessor) TensorLen() int { return p.size * p.size * Channels }

// ProcessBytes decodes data in any registered format and preprocesses it.
// The header is checked against the pixel limit before pixels are decoded.
func (p *ImagePreprocessor) ProcessBytes(data []byte) ([]float32, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrEmptyImage
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d is %d pixels, limit %d",
			ErrImageTooLarge, cfg.Width, cfg.Height, pixels, p.maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return p.Process(img)
}

// ProcessReader reads an encoded image from r and preprocesses it.
func (p *ImagePreprocessor) ProcessReader(r io.Reader) ([]float32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return p.ProcessBytes(data)
}

// Process resizes img with nearest-neighbour sampling and returns pixel
// values in HWC order normalized to [-1, 1]. Alpha is ignored.
func (p *ImagePreprocessor) Process(img image.Image) ([]float32, error) {
	if p.size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", p.size)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	rgba := p.resize(img)
	out := make([]float32, p.TensorLen())
	i := 0
	for y := 0; y < p.size; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+p.size*4]
		for x := 0; x < p.size; x++ {
			px := row[x*4 : x*4+4]
			out[i] = float32(px[0])*scale - offset
			out[i+1] = float32(px[1])*scale - offset
			out[i+2] = float32(px[2])*scale - offset
			i += Channels
		}
	}
	return out, nil
}

func (p *ImagePreprocessor) resize(img image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	b := img.Bounds()
	if b.Dx() == p.size && b.Dy() == p.size {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
