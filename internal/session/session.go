// Package session owns a compiled encoder/decoder pair and runs greedy
// autoregressive decoding on it.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/ocr-service/internal/embedding"
	"github.com/SyedDaiam9101/ocr-service/internal/inference"
	"github.com/SyedDaiam9101/ocr-service/internal/metrics"
)

// Config holds the inputs of Initialize.
type Config struct {
	Encoder    []byte
	Decoder    []byte
	Embeddings []byte
	// CacheDir is where the engine may stage model files.
	CacheDir string
	// AcceleratorLibDir is the directory holding the engine's shared library.
	AcceleratorLibDir string
}

// Options tune a Session. Zero values select the defaults.
type Options struct {
	Dims          ModelDims
	LatencyBudget time.Duration
	// ReleaseDelay is slept after Close when a GPU was in use. Negative
	// disables it.
	ReleaseDelay time.Duration
	Logger       *zap.Logger
}

// Session is the exclusive owner of the compiled models, their buffers and
// the embedding table. It serves one request at a time.
type Session struct {
	mu sync.Mutex

	engine inference.Engine
	dims   ModelDims
	budget time.Duration
	delay  time.Duration
	logger *zap.Logger

	opened     bool
	encoder    inference.Model
	decoder    inference.Model
	pool       *bufferPool
	decode     *decodeEngine
	ready      bool
	encoderGPU bool
	decoderGPU bool
}

// New creates an uninitialized session on top of engine.
func New(engine inference.Engine, opts Options) *Session {
	if opts.Dims == (ModelDims{}) {
		opts.Dims = DefaultDims()
	}
	if opts.LatencyBudget == 0 {
		opts.LatencyBudget = DefaultLatencyBudget
	}
	if opts.ReleaseDelay == 0 {
		opts.ReleaseDelay = DefaultReleaseDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		engine: engine,
		dims:   opts.Dims,
		budget: opts.LatencyBudget,
		delay:  opts.ReleaseDelay,
		logger: opts.Logger.Named("session"),
	}
}

// Dims returns the model dimensions the session was built for.
func (s *Session) Dims() ModelDims { return s.dims }

// Initialize compiles both models on the GPU, creates buffers and runs a
// warmup pass. On failure every partially acquired resource is released and
// the session stays not ready.
func (s *Session) Initialize(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "initialize"
	if s.ready {
		return errorf(KindConfiguration, op, "session is already initialized")
	}
	if s.engine == nil {
		return errorf(KindConfiguration, op, "inference engine is nil")
	}
	if err := s.dims.Validate(); err != nil {
		return newError(KindConfiguration, op, err)
	}
	if len(cfg.Encoder) == 0 || len(cfg.Decoder) == 0 {
		return errorf(KindConfiguration, op, "encoder and decoder model bytes are required")
	}
	table, err := embedding.FromBytes(cfg.Embeddings, s.dims.VocabSize, s.dims.HiddenSize)
	if err != nil {
		return newError(KindConfiguration, op, fmt.Errorf("loading embeddings: %w", err))
	}

	start := time.Now()
	s.logger.Info("Initializing session",
		zap.Int("encoderBytes", len(cfg.Encoder)),
		zap.Int("decoderBytes", len(cfg.Decoder)),
		zap.Int("embeddingBytes", len(cfg.Embeddings)),
		zap.String("cacheDir", cfg.CacheDir),
		zap.String("acceleratorLibDir", cfg.AcceleratorLibDir))

	if err := s.engine.Open(inference.EnvOptions{CacheDir: cfg.CacheDir, LibraryDir: cfg.AcceleratorLibDir}); err != nil {
		return newError(KindConfiguration, op, fmt.Errorf("opening engine environment: %w", err))
	}
	s.opened = true

	c := &compiler{engine: s.engine, logger: s.logger}
	s.encoder, s.decoder, err = c.compilePair(cfg.Encoder, cfg.Decoder)
	if err != nil {
		s.releaseLocked()
		return err
	}
	s.encoderGPU, s.decoderGPU = true, true

	s.pool, err = newBufferPool(s.engine, s.encoder, s.decoder, s.dims, s.logger)
	if err != nil {
		s.releaseLocked()
		return err
	}

	warm := time.Now()
	if err := s.pool.warmup(s.engine, s.encoder, s.decoder, s.dims); err != nil {
		s.logger.Error("Warmup failed", zap.Error(err))
		s.releaseLocked()
		return err
	}
	s.logger.Info("Warmup complete", zap.Duration("took", time.Since(warm)))

	s.decode = newDecodeEngine(s.engine, s.encoder, s.decoder, s.pool, table, s.dims, s.budget, s.logger)
	s.ready = true
	metrics.SetSessionReady(true)

	s.logger.Info("Session ready",
		zap.Bool("encoderGPU", s.encoderGPU),
		zap.Bool("decoderGPU", s.decoderGPU),
		zap.Duration("took", time.Since(start)))
	return nil
}

// InferTokens decodes one preprocessed image tensor (HWC, ImageFloats long).
// maxTokens <= 0 means the full sequence capacity. The call never panics;
// failures are reported through Result.State and Result.Err.
func (s *Session) InferTokens(image []float32, maxTokens int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		metrics.RecordDecode(StateFailed.String(), 0)
		return Result{State: StateFailed, Err: errorf(KindNotReady, "infer tokens", "session is not initialized")}
	}

	start := time.Now()
	res := s.decode.run(image, maxTokens)
	s.logger.Debug("Inference finished",
		zap.Stringer("state", res.State),
		zap.Int("tokens", len(res.Tokens)),
		zap.Int("steps", res.Steps),
		zap.Duration("took", time.Since(start)))
	return res
}

// Close releases buffers, then model handles, then the engine environment.
// When a GPU was in use it then waits for the release delay so a following
// Initialize does not race the driver. Close on an uninitialized session is
// a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Session) releaseLocked() error {
	if !s.opened {
		return nil
	}
	usedGPU := s.encoderGPU || s.decoderGPU

	if s.pool != nil {
		s.pool.release(s.logger)
		s.pool = nil
	}
	closeModel(s.logger, s.decoder)
	closeModel(s.logger, s.encoder)
	s.encoder, s.decoder, s.decode = nil, nil, nil

	var errs []error
	if err := s.engine.Close(); err != nil {
		s.logger.Warn("Error closing engine environment", zap.Error(err))
		errs = append(errs, fmt.Errorf("closing engine: %w", err))
	}

	s.opened = false
	s.ready = false
	s.encoderGPU, s.decoderGPU = false, false
	metrics.SetSessionReady(false)

	if usedGPU && s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.logger.Info("Session released", zap.Bool("usedGPU", usedGPU))
	return errors.Join(errs...)
}

// IsReady reports whether Initialize completed and Close has not been called.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// IsUsingGpu reports whether both models run on the GPU.
func (s *Session) IsUsingGpu() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoderGPU && s.decoderGPU
}

func (s *Session) IsEncoderUsingGpu() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoderGPU
}

func (s *Session) IsDecoderUsingGpu() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoderGPU
}
