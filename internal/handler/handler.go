// internal/handler/handler.go
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/ocr-service/api/ocrv1"
	"github.com/SyedDaiam9101/ocr-service/internal/metrics"
	"github.com/SyedDaiam9101/ocr-service/internal/middleware"
	"github.com/SyedDaiam9101/ocr-service/internal/ocr"
)

// DefaultMaxBatchSize bounds BatchRecognize when Options leaves it unset.
const DefaultMaxBatchSize = 16

// Recognizer runs the OCR pipeline. *ocr.Recognizer implements it.
type Recognizer interface {
	Recognize(ctx context.Context, req ocr.Request) (ocr.Recognition, error)
	Normalize(text string) string
}

// StatusReporter exposes session readiness. *session.Session implements it.
type StatusReporter interface {
	IsReady() bool
	IsUsingGpu() bool
	IsEncoderUsingGpu() bool
	IsDecoderUsingGpu() bool
}

// Options configure a Handler.
type Options struct {
	MaxBatchSize int
	Logger       *zap.Logger
}

// Handler implements the RecognizerServer interface.
// It depends on the Recognizer interface for flexibility and testability.
type Handler struct {
	ocrv1.UnimplementedRecognizerServer
	rec      Recognizer
	status   StatusReporter
	maxBatch int
	logger   *zap.Logger
}

// New creates a new Handler. rec or status may be nil; calls that need them
// then fail with FailedPrecondition.
func New(rec Recognizer, status StatusReporter, opts Options) *Handler {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		rec:      rec,
		status:   status,
		maxBatch: opts.MaxBatchSize,
		logger:   opts.Logger.Named("handler"),
	}
}

// Recognize handles a single image by delegating to BatchRecognize
func (h *Handler) Recognize(ctx context.Context, req *ocrv1.RecognizeRequest) (*ocrv1.RecognizeResponse, error) {
	if req == nil {
		return nil, invalidArgumentError("request cannot be nil")
	}

	batchResp, err := h.BatchRecognize(ctx, &ocrv1.BatchRecognizeRequest{
		Requests: []*ocrv1.RecognizeRequest{req},
	})
	if err != nil {
		return nil, err
	}

	if len(batchResp.Responses) == 0 {
		return nil, internalError("no response from batch recognize")
	}

	return batchResp.Responses[0], nil
}

// BatchRecognize handles batch requests. Images are recognized one after
// another on the single session; the first failure fails the batch.
func (h *Handler) BatchRecognize(ctx context.Context, req *ocrv1.BatchRecognizeRequest) (*ocrv1.BatchRecognizeResponse, error) {
	start := time.Now()
	logger := h.requestLogger(ctx)

	if req == nil || len(req.Requests) == 0 {
		return nil, invalidArgumentError("batch request cannot be nil or empty")
	}
	if len(req.Requests) > h.maxBatch {
		return nil, invalidArgumentError("batch has %d images, limit is %d", len(req.Requests), h.maxBatch)
	}
	if h.rec == nil {
		return nil, failedPreconditionError("recognizer not initialized")
	}

	for i, r := range req.Requests {
		if r == nil {
			return nil, invalidArgumentError("request %d is nil", i)
		}
		if len(r.Image) == 0 {
			return nil, invalidArgumentError("request %d has an empty image", i)
		}
		if r.MaxTokens < 0 {
			return nil, invalidArgumentError("request %d has negative max_tokens %d", i, r.MaxTokens)
		}
	}

	batchSize := len(req.Requests)
	metrics.RecordBatch(batchSize)

	responses := make([]*ocrv1.RecognizeResponse, batchSize)
	cached := 0
	for i, r := range req.Requests {
		rec, err := h.rec.Recognize(ctx, ocr.Request{
			Image:     r.Image,
			MaxTokens: int(r.MaxTokens),
			SkipCache: r.SkipCache,
		})
		if err != nil {
			logger.Error("Recognition failed", zap.Int("index", i), zap.Error(err))
			return nil, grpcError(err)
		}
		if rec.Cached {
			cached++
		}
		responses[i] = toResponse(rec)
	}

	logger.Info("BatchRecognize",
		zap.Int("batch_size", batchSize),
		zap.Int("cached", cached),
		zap.Duration("took", time.Since(start)))

	return &ocrv1.BatchRecognizeResponse{Responses: responses}, nil
}

// Normalize applies the text normalizer without running the models
func (h *Handler) Normalize(ctx context.Context, req *ocrv1.NormalizeRequest) (*ocrv1.NormalizeResponse, error) {
	if req == nil {
		return nil, invalidArgumentError("request cannot be nil")
	}
	if h.rec == nil {
		return nil, failedPreconditionError("recognizer not initialized")
	}
	return &ocrv1.NormalizeResponse{Text: h.rec.Normalize(req.Text)}, nil
}

// Status reports session readiness and accelerator use
func (h *Handler) Status(ctx context.Context, req *ocrv1.StatusRequest) (*ocrv1.StatusResponse, error) {
	if h.status == nil {
		return &ocrv1.StatusResponse{}, nil
	}
	return &ocrv1.StatusResponse{
		Ready:      h.status.IsReady(),
		UsingGpu:   h.status.IsUsingGpu(),
		EncoderGpu: h.status.IsEncoderUsingGpu(),
		DecoderGpu: h.status.IsDecoderUsingGpu(),
	}, nil
}

func (h *Handler) requestLogger(ctx context.Context) *zap.Logger {
	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = "unknown"
	}
	return h.logger.With(zap.String("request_id", requestID))
}

func toResponse(rec ocr.Recognition) *ocrv1.RecognizeResponse {
	resp := &ocrv1.RecognizeResponse{
		Text:     rec.Text,
		RawText:  rec.RawText,
		TokenIds: rec.Tokens,
		State:    rec.State.String(),
		Cached:   rec.Cached,
	}
	if rec.Err != nil {
		resp.Error = rec.Err.Error()
	}
	return resp
}

var _ ocrv1.RecognizerServer = (*Handler)(nil)
