// Package ocr chains preprocessing, token inference, vocabulary decoding and
// text normalization into a single recognition call.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SyedDaiam9101/ocr-service/internal/cache"
	"github.com/SyedDaiam9101/ocr-service/internal/metrics"
	"github.com/SyedDaiam9101/ocr-service/internal/preprocess"
	"github.com/SyedDaiam9101/ocr-service/internal/session"
	"github.com/SyedDaiam9101/ocr-service/internal/textnorm"
	"github.com/SyedDaiam9101/ocr-service/internal/vocab"
)

const tracerName = "github.com/SyedDaiam9101/ocr-service/internal/ocr"

// ErrInvalidImage wraps image decoding failures.
var ErrInvalidImage = errors.New("invalid image")

// TokenInferer runs the encoder/decoder pair. *session.Session implements it.
type TokenInferer interface {
	InferTokens(image []float32, maxTokens int) session.Result
	Dims() session.ModelDims
}

// ResultCache stores finished recognitions. *cache.Cache implements it.
type ResultCache interface {
	Get(ctx context.Context, key string) (cache.Entry, bool)
	Set(ctx context.Context, key string, e cache.Entry)
}

// Request is one image to recognize.
type Request struct {
	Image []byte
	// MaxTokens bounds the token sequence including the start token. Values
	// <= 0 or above the sequence capacity select the capacity.
	MaxTokens int
	SkipCache bool
}

// Recognition is the outcome of one request.
type Recognition struct {
	Text    string
	RawText string
	Tokens  []int32
	State   session.State
	Cached  bool
	// Err explains an interrupted decode. Text still holds the partial result.
	Err error
}

// Options configure a Recognizer.
type Options struct {
	Cache ResultCache
	// ModelID separates cache entries of different model builds.
	ModelID    string
	Normalizer *textnorm.Normalizer
	// MaxImagePixels bounds the declared canvas of input images. Zero
	// selects preprocess.DefaultMaxPixels.
	MaxImagePixels int
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
}

// Recognizer is safe for concurrent use; the session serializes inference.
type Recognizer struct {
	inferer TokenInferer
	pre     *preprocess.ImagePreprocessor
	vocab   *vocab.Vocabulary
	norm    *textnorm.Normalizer
	cache   ResultCache
	modelID string
	group   singleflight.Group
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New creates a Recognizer around inferer and v.
func New(inferer TokenInferer, v *vocab.Vocabulary, opts Options) *Recognizer {
	if opts.Normalizer == nil {
		opts.Normalizer = textnorm.New()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Recognizer{
		inferer: inferer,
		pre:     preprocess.NewWithLimit(inferer.Dims().ImageSize, opts.MaxImagePixels),
		vocab:   v,
		norm:    opts.Normalizer,
		cache:   opts.Cache,
		modelID: opts.ModelID,
		tracer:  opts.TracerProvider.Tracer(tracerName),
		logger:  opts.Logger.Named("ocr"),
	}
}

// Normalize applies the recognizer's text normalization to text.
func (r *Recognizer) Normalize(text string) string {
	return r.norm.Normalize(text)
}

// Recognize turns req.Image into text. It fails only when nothing could be
// decoded; an interrupted decode returns its partial text with State set to
// session.StateInterrupted.
func (r *Recognizer) Recognize(ctx context.Context, req Request) (Recognition, error) {
	limit := r.limit(req.MaxTokens)

	if req.SkipCache || r.cache == nil {
		return r.recognize(ctx, req.Image, limit)
	}

	key := cache.Key(r.modelID, req.Image, limit)
	if e, ok := r.cache.Get(ctx, key); ok {
		if state, ok := parseState(e.State); ok {
			r.logger.Debug("Result cache hit", zap.String("key", key))
			return Recognition{Text: e.Text, RawText: e.RawText, Tokens: e.Tokens, State: state, Cached: true}, nil
		}
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		rec, err := r.recognize(ctx, req.Image, limit)
		if err != nil {
			return rec, err
		}
		if rec.State == session.StateDone || rec.State == session.StateTruncated {
			r.cache.Set(ctx, key, cache.Entry{
				Text:    rec.Text,
				RawText: rec.RawText,
				Tokens:  rec.Tokens,
				State:   rec.State.String(),
			})
		}
		return rec, nil
	})
	if shared {
		r.logger.Debug("Shared in-flight recognition", zap.String("key", key))
	}
	return v.(Recognition), err
}

func (r *Recognizer) recognize(ctx context.Context, image []byte, limit int) (Recognition, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "ocr.recognize",
		trace.WithAttributes(attribute.Int("ocr.image_bytes", len(image)), attribute.Int("ocr.max_tokens", limit)))
	defer span.End()

	tensor, err := r.preprocess(ctx, image)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preprocess failed")
		return Recognition{State: session.StateFailed}, err
	}

	res := r.infer(ctx, tensor, limit)
	if res.State == session.StateFailed {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "inference failed")
		return Recognition{State: session.StateFailed}, res.Err
	}

	rec := r.postprocess(ctx, res)
	metrics.RecordRecognitionLatency(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.Stringer("state", rec.State),
		zap.Int("tokens", len(rec.Tokens)),
		zap.Duration("took", time.Since(start)),
	}
	if rec.Err != nil {
		r.logger.Warn("Recognition interrupted; returning partial text", append(fields, zap.Error(rec.Err))...)
	} else {
		r.logger.Debug("Recognition finished", fields...)
	}
	return rec, nil
}

func (r *Recognizer) preprocess(ctx context.Context, image []byte) ([]float32, error) {
	_, span := r.tracer.Start(ctx, "ocr.preprocess")
	defer span.End()

	tensor, err := r.pre.ProcessBytes(image)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return tensor, nil
}

func (r *Recognizer) infer(ctx context.Context, tensor []float32, limit int) session.Result {
	_, span := r.tracer.Start(ctx, "ocr.infer")
	defer span.End()

	res := r.inferer.InferTokens(tensor, limit)
	span.SetAttributes(
		attribute.String("ocr.state", res.State.String()),
		attribute.Int("ocr.tokens", len(res.Tokens)),
		attribute.Int("ocr.steps", res.Steps),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	return res
}

func (r *Recognizer) postprocess(ctx context.Context, res session.Result) Recognition {
	_, span := r.tracer.Start(ctx, "ocr.postprocess")
	defer span.End()

	raw := r.vocab.DecodeTokens(res.Tokens)
	text := r.norm.Normalize(raw)
	span.SetAttributes(attribute.Int("ocr.text_runes", len([]rune(text))))

	return Recognition{
		Text:    text,
		RawText: raw,
		Tokens:  res.Tokens,
		State:   res.State,
		Err:     res.Err,
	}
}

func (r *Recognizer) limit(maxTokens int) int {
	capacity := r.inferer.Dims().MaxSequenceLength
	if maxTokens <= 0 || maxTokens > capacity {
		return capacity
	}
	return maxTokens
}

func parseState(s string) (session.State, bool) {
	for _, st := range []session.State{session.StateDone, session.StateTruncated} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}
