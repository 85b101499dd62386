package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/ocr-service/internal/inference"
)

// Decoder input slots.
const (
	decoderHiddenInput = 0
	decoderMaskInput   = 1
	decoderEmbedInput  = 2
)

// bufferPool owns the I/O buffers of both models. Sizes are read from the
// compiled models and cached; nothing here is hard-coded to a model build.
type bufferPool struct {
	encoderIn  []inference.Buffer
	encoderOut []inference.Buffer
	decoderIn  []inference.Buffer
	decoderOut []inference.Buffer

	imageFloats  int
	hiddenFloats int
	logitsFloats int
}

func newBufferPool(engine inference.Engine, encoder, decoder inference.Model, dims ModelDims, logger *zap.Logger) (*bufferPool, error) {
	p := &bufferPool{}

	steps := []struct {
		what   string
		create func(inference.Model) ([]inference.Buffer, error)
		model  inference.Model
		dst    *[]inference.Buffer
	}{
		{"encoder input", engine.CreateInputBuffers, encoder, &p.encoderIn},
		{"encoder output", engine.CreateOutputBuffers, encoder, &p.encoderOut},
		{"decoder input", engine.CreateInputBuffers, decoder, &p.decoderIn},
		{"decoder output", engine.CreateOutputBuffers, decoder, &p.decoderOut},
	}
	for _, step := range steps {
		buffers, err := step.create(step.model)
		if err != nil {
			p.release(logger)
			return nil, newError(KindBuffer, "create "+step.what+" buffers", err)
		}
		*step.dst = buffers
		logger.Debug("Buffers created", zap.String("slot", step.what), zap.Int("count", len(buffers)))
	}

	if err := p.measure(dims); err != nil {
		p.release(logger)
		return nil, err
	}

	logger.Info("Buffers ready",
		zap.Int("encoderInputs", len(p.encoderIn)),
		zap.Int("encoderOutputs", len(p.encoderOut)),
		zap.Int("decoderInputs", len(p.decoderIn)),
		zap.Int("decoderOutputs", len(p.decoderOut)),
		zap.Int("hiddenFloats", p.hiddenFloats),
		zap.Int("logitsFloats", p.logitsFloats))
	return p, nil
}

// measure caches buffer sizes and checks them against the tensor contract.
func (p *bufferPool) measure(dims ModelDims) error {
	const op = "validate buffers"

	if len(p.encoderIn) < 1 || len(p.encoderOut) < 1 {
		return errorf(KindBuffer, op, "encoder needs 1 input and 1 output, has %d and %d", len(p.encoderIn), len(p.encoderOut))
	}
	if len(p.decoderIn) < 3 || len(p.decoderOut) < 1 {
		return errorf(KindBuffer, op, "decoder needs 3 inputs and 1 output, has %d and %d", len(p.decoderIn), len(p.decoderOut))
	}

	var err error
	if p.imageFloats, err = floats(p.encoderIn[0]); err != nil {
		return newError(KindBuffer, op, err)
	}
	if p.imageFloats < dims.ImageFloats() {
		return errorf(KindBuffer, op, "encoder input holds %d floats, image needs %d", p.imageFloats, dims.ImageFloats())
	}

	if p.hiddenFloats, err = floats(p.encoderOut[0]); err != nil {
		return newError(KindBuffer, op, err)
	}
	if p.hiddenFloats == 0 {
		return errorf(KindBuffer, op, "encoder output buffer size is 0")
	}

	hiddenIn, err := floats(p.decoderIn[decoderHiddenInput])
	if err != nil {
		return newError(KindBuffer, op, err)
	}
	if hiddenIn != p.hiddenFloats {
		return errorf(KindBuffer, op, "decoder hidden input holds %d floats, encoder produces %d", hiddenIn, p.hiddenFloats)
	}

	mask, err := floats(p.decoderIn[decoderMaskInput])
	if err != nil {
		return newError(KindBuffer, op, err)
	}
	if mask != dims.MaxSequenceLength {
		return errorf(KindBuffer, op, "attention mask holds %d floats, expected %d", mask, dims.MaxSequenceLength)
	}

	embed, err := floats(p.decoderIn[decoderEmbedInput])
	if err != nil {
		return newError(KindBuffer, op, err)
	}
	if embed != dims.MaxSequenceLength*dims.HiddenSize {
		return errorf(KindBuffer, op, "embedding window holds %d floats, expected %d", embed, dims.MaxSequenceLength*dims.HiddenSize)
	}

	if p.logitsFloats, err = floats(p.decoderOut[0]); err != nil {
		return newError(KindBuffer, op, err)
	}
	if p.logitsFloats < dims.MaxSequenceLength*dims.VocabSize {
		return errorf(KindBuffer, op, "logits hold %d floats, expected at least %d", p.logitsFloats, dims.MaxSequenceLength*dims.VocabSize)
	}
	return nil
}

// warmup runs the encoder on a zero image and the decoder on zero inputs so
// deferred device allocation and kernel compilation happen now.
func (p *bufferPool) warmup(engine inference.Engine, encoder, decoder inference.Model, dims ModelDims) error {
	const op = "warmup"

	if err := p.encoderIn[0].Write(make([]float32, dims.ImageFloats())); err != nil {
		return newError(KindBuffer, op, fmt.Errorf("writing encoder input: %w", err))
	}
	if err := engine.Run(encoder, p.encoderIn, p.encoderOut); err != nil {
		return newError(KindRuntime, op, fmt.Errorf("running encoder: %w", err))
	}
	if err := p.encoderOut[0].Read(make([]float32, p.hiddenFloats)); err != nil {
		return newError(KindBuffer, op, fmt.Errorf("reading encoder output: %w", err))
	}

	inputs := []struct {
		slot int
		what string
		n    int
	}{
		{decoderHiddenInput, "hidden states", p.hiddenFloats},
		{decoderMaskInput, "attention mask", dims.MaxSequenceLength},
		{decoderEmbedInput, "embedding window", dims.MaxSequenceLength * dims.HiddenSize},
	}
	for _, in := range inputs {
		if err := p.decoderIn[in.slot].Write(make([]float32, in.n)); err != nil {
			return newError(KindBuffer, op, fmt.Errorf("writing decoder %s: %w", in.what, err))
		}
	}
	if err := engine.Run(decoder, p.decoderIn, p.decoderOut); err != nil {
		return newError(KindRuntime, op, fmt.Errorf("running decoder: %w", err))
	}
	return nil
}

func (p *bufferPool) release(logger *zap.Logger) {
	for _, group := range [][]inference.Buffer{p.encoderIn, p.encoderOut, p.decoderIn, p.decoderOut} {
		for _, b := range group {
			if err := b.Close(); err != nil {
				logger.Warn("Error releasing buffer", zap.String("buffer", b.Name()), zap.Error(err))
			}
		}
	}
	p.encoderIn, p.encoderOut, p.decoderIn, p.decoderOut = nil, nil, nil, nil
}

func floats(b inference.Buffer) (int, error) {
	n, err := inference.Float32Count(b)
	if err != nil {
		return 0, fmt.Errorf("querying size of %s: %w", b.Name(), err)
	}
	return n, nil
}
