package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/ocr-service/internal/inference"
)

// compiler compiles models GPU-only and rejects anything short of full
// acceleration. Partial offload is never accepted.
type compiler struct {
	engine inference.Engine
	logger *zap.Logger
}

// compile builds one model for the GPU and reports whether the whole graph
// runs on it.
func (c *compiler) compile(name string, model []byte) (inference.Model, bool, error) {
	start := time.Now()
	c.logger.Info("Compiling model",
		zap.String("model", name),
		zap.Int("bytes", len(model)),
		zap.Stringer("accelerator", inference.AcceleratorGPU))

	handle, err := c.engine.Compile(name, model, inference.AcceleratorGPU)
	if err != nil {
		return nil, false, newError(KindAccelerationUnavailable, "compile "+name, err)
	}

	full, err := c.engine.IsFullyAccelerated(handle)
	if err != nil {
		closeModel(c.logger, handle)
		return nil, false, newError(KindAccelerationUnavailable, "compile "+name,
			fmt.Errorf("querying acceleration status: %w", err))
	}

	c.logger.Info("Model compiled",
		zap.String("model", name),
		zap.Bool("fullyAccelerated", full),
		zap.Duration("took", time.Since(start)))
	return handle, full, nil
}

// compileAccelerated compiles name and fails unless it is fully accelerated.
func (c *compiler) compileAccelerated(name string, model []byte) (inference.Model, error) {
	handle, full, err := c.compile(name, model)
	if err != nil {
		return nil, err
	}
	if !full {
		c.logger.Warn("Model is not fully GPU-accelerated; rejecting compilation", zap.String("model", name))
		closeModel(c.logger, handle)
		return nil, errorf(KindAccelerationUnavailable, "compile "+name, "model is only partially accelerated")
	}
	return handle, nil
}

// compilePair compiles the encoder, verifies it, then the decoder. If the
// decoder fails the encoder handle is released.
func (c *compiler) compilePair(encoder, decoder []byte) (inference.Model, inference.Model, error) {
	enc, err := c.compileAccelerated("encoder", encoder)
	if err != nil {
		return nil, nil, err
	}
	dec, err := c.compileAccelerated("decoder", decoder)
	if err != nil {
		closeModel(c.logger, enc)
		return nil, nil, err
	}
	return enc, dec, nil
}

func closeModel(logger *zap.Logger, m inference.Model) {
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		logger.Warn("Error releasing model", zap.String("model", m.Name()), zap.Error(err))
	}
}
