// cmd/ocr/stack.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/ocr-service/internal/cache"
	"github.com/SyedDaiam9101/ocr-service/internal/config"
	"github.com/SyedDaiam9101/ocr-service/internal/embedding"
	"github.com/SyedDaiam9101/ocr-service/internal/inference"
	"github.com/SyedDaiam9101/ocr-service/internal/ocr"
	"github.com/SyedDaiam9101/ocr-service/internal/session"
	"github.com/SyedDaiam9101/ocr-service/internal/vocab"
)

// Mock mode runs small models whose decoder spells "MOCK".
var (
	mockDims = session.ModelDims{
		ImageSize:         32,
		MaxSequenceLength: 16,
		VocabSize:         16,
		HiddenSize:        4,
	}
	mockScript    = []int32{5, 6, 7, 8}
	mockFragments = []string{"<pad>", "<unk>", "<s>", "</s>", "<mask>", "M", "O", "C", "K"}
)

// assets are the inputs needed to build a session and recognizer.
type assets struct {
	engine  inference.Engine
	dims    session.ModelDims
	init    session.Config
	vocab   *vocab.Vocabulary
	modelID string
}

func loadAssets(cfg *config.Config) (*assets, error) {
	if cfg.UseMockInference {
		return mockAssets(cfg), nil
	}

	encoder, err := os.ReadFile(cfg.Model.Encoder)
	if err != nil {
		return nil, fmt.Errorf("reading encoder model: %w", err)
	}
	decoder, err := os.ReadFile(cfg.Model.Decoder)
	if err != nil {
		return nil, fmt.Errorf("reading decoder model: %w", err)
	}
	embeddings, err := os.ReadFile(cfg.Model.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("reading embedding table: %w", err)
	}
	v, err := vocab.Load(cfg.Model.Vocab)
	if err != nil {
		return nil, err
	}

	d := xxhash.New()
	_, _ = d.Write(encoder)
	_, _ = d.Write(decoder)
	_, _ = d.Write(embeddings)

	return &assets{
		engine: inference.NewONNX(),
		dims:   session.DefaultDims(),
		init: session.Config{
			Encoder:           encoder,
			Decoder:           decoder,
			Embeddings:        embeddings,
			CacheDir:          cfg.Session.CacheDir,
			AcceleratorLibDir: cfg.Session.AcceleratorLibDir,
		},
		vocab:   v,
		modelID: fmt.Sprintf("%016x", d.Sum64()),
	}, nil
}

func mockAssets(cfg *config.Config) *assets {
	engine := inference.NewMockWithScript(inference.MockConfig{
		ImageFloats:   mockDims.ImageFloats(),
		EncoderFloats: 8,
		MaxSeqLen:     mockDims.MaxSequenceLength,
		VocabSize:     mockDims.VocabSize,
		HiddenSize:    mockDims.HiddenSize,
		EndToken:      session.EndToken,
	}, mockScript)

	table := make([]float32, mockDims.VocabSize*mockDims.HiddenSize)
	for i := range table {
		table[i] = float32(i) / float32(len(table))
	}

	return &assets{
		engine: engine,
		dims:   mockDims,
		init: session.Config{
			Encoder:           []byte("mock-encoder"),
			Decoder:           []byte("mock-decoder"),
			Embeddings:        embedding.Encode(table),
			CacheDir:          cfg.Session.CacheDir,
			AcceleratorLibDir: cfg.Session.AcceleratorLibDir,
		},
		vocab:   vocab.New(mockFragments),
		modelID: "mock",
	}
}

// stack is an initialized session with the recognizer and cache around it.
type stack struct {
	session    *session.Session
	recognizer *ocr.Recognizer
	cache      *cache.Cache
}

// buildStack initializes the session. The result cache is built only when
// withCache is set and the configuration enables it.
func buildStack(ctx context.Context, cfg *config.Config, logger *zap.Logger, tp trace.TracerProvider, withCache bool) (*stack, error) {
	a, err := loadAssets(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing OCR session",
		zap.Bool("mock", cfg.UseMockInference),
		zap.String("model_id", a.modelID))

	sess := session.New(a.engine, session.Options{
		Dims:          a.dims,
		LatencyBudget: cfg.Session.LatencyBudget,
		ReleaseDelay:  releaseDelay(cfg.Session.ReleaseDelay),
		Logger:        logger,
	})
	if err := sess.Initialize(a.init); err != nil {
		return nil, fmt.Errorf("initializing session: %w", err)
	}

	s := &stack{session: sess}
	opts := ocr.Options{
		ModelID:        a.modelID,
		MaxImagePixels: cfg.MaxImagePixels,
		TracerProvider: tp,
		Logger:         logger,
	}
	if withCache && cfg.Cache.Enabled {
		c, err := cache.New(ctx, cache.Config{
			Capacity:      cfg.Cache.Capacity,
			TTL:           cfg.Cache.TTL,
			RedisAddr:     cfg.Cache.RedisAddr,
			RedisPassword: cfg.Cache.RedisPassword,
			RedisDB:       cfg.Cache.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("Failed to create result cache, continuing without it", zap.Error(err))
		} else {
			s.cache = c
			opts.Cache = c
		}
	}

	s.recognizer = ocr.New(sess, a.vocab, opts)
	return s, nil
}

// releaseDelay maps the configured pause onto session.Options, where zero
// selects the default and a negative value disables the pause.
func releaseDelay(configured time.Duration) time.Duration {
	if configured <= 0 {
		return -1
	}
	return configured
}

func (s *stack) Close() error {
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	errs = append(errs, s.session.Close())
	return errors.Join(errs...)
}
