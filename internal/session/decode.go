package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/ocr-service/internal/embedding"
	"github.com/SyedDaiam9101/ocr-service/internal/inference"
	"github.com/SyedDaiam9101/ocr-service/internal/metrics"
)

// State is the phase of one InferTokens call.
type State int

const (
	StateInit State = iota
	StateEncoding
	StateDecoding
	// StateDone means the decoder produced the end token.
	StateDone
	// StateTruncated means the token limit or the sequence capacity was hit.
	StateTruncated
	// StateFailed means nothing was decoded. Tokens is empty.
	StateFailed
	// StateInterrupted means a decoder step failed. Tokens holds everything
	// decoded before the failure.
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateEncoding:
		return "ENCODING"
	case StateDecoding:
		return "DECODING"
	case StateDone:
		return "DONE"
	case StateTruncated:
		return "TRUNCATED"
	case StateFailed:
		return "FAILED"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of one InferTokens call.
type Result struct {
	// Tokens starts with StartToken unless State is StateFailed.
	Tokens []int32
	State  State
	// Steps is the number of decode iterations attempted.
	Steps int
	// Err is set for StateFailed and StateInterrupted.
	Err error
}

// decodeEngine runs the encoder once and the decoder greedily. Its scratch
// slices are reused across requests; the session mutex guarantees a single
// caller.
type decodeEngine struct {
	engine     inference.Engine
	encoder    inference.Model
	decoder    inference.Model
	pool       *bufferPool
	embeddings *embedding.Table
	dims       ModelDims
	budget     time.Duration
	logger     *zap.Logger

	hidden []float32
	mask   []float32
	window []float32
	logits []float32
	tokens []int32
}

func newDecodeEngine(engine inference.Engine, encoder, decoder inference.Model, pool *bufferPool,
	embeddings *embedding.Table, dims ModelDims, budget time.Duration, logger *zap.Logger) *decodeEngine {
	return &decodeEngine{
		engine:     engine,
		encoder:    encoder,
		decoder:    decoder,
		pool:       pool,
		embeddings: embeddings,
		dims:       dims,
		budget:     budget,
		logger:     logger,
		hidden:     make([]float32, pool.hiddenFloats),
		mask:       make([]float32, dims.MaxSequenceLength),
		window:     make([]float32, dims.MaxSequenceLength*dims.HiddenSize),
		logits:     make([]float32, pool.logitsFloats),
		tokens:     make([]int32, dims.MaxSequenceLength),
	}
}

// run decodes one image tensor. It never panics; unexpected faults are
// folded into StateFailed or StateInterrupted.
func (d *decodeEngine) run(image []float32, maxTokens int) (res Result) {
	limit := d.dims.MaxSequenceLength
	if maxTokens > 0 && maxTokens < limit {
		limit = maxTokens
	}

	state := StateInit
	position := 0
	steps := 0

	defer func() {
		if r := recover(); r != nil {
			err := errorf(KindRuntime, "infer tokens", "recovered from panic in state %s: %v", state, r)
			d.logger.Error("Decode panicked", zap.Stringer("state", state), zap.Any("panic", r))
			if state == StateDecoding && position > 0 {
				res = Result{Tokens: d.result(position), State: StateInterrupted, Steps: steps, Err: err}
			} else {
				res = Result{State: StateFailed, Steps: steps, Err: err}
			}
		}
		metrics.RecordDecode(res.State.String(), res.Steps)
	}()

	if len(image) != d.dims.ImageFloats() {
		return Result{State: StateFailed, Err: errorf(KindConfiguration, "infer tokens",
			"image tensor has %d floats, expected %d", len(image), d.dims.ImageFloats())}
	}

	state = StateEncoding
	if err := d.encode(image); err != nil {
		d.logger.Error("Encoder stage failed", zap.Error(err))
		return Result{State: StateFailed, Err: err}
	}

	clear(d.mask)
	clear(d.window)
	clear(d.tokens)
	d.tokens[0] = StartToken
	if err := d.embed(0, StartToken); err != nil {
		return Result{State: StateFailed, Err: err}
	}
	d.mask[0] = 1
	position = 1

	if position >= limit {
		return Result{Tokens: d.result(position), State: StateTruncated}
	}

	state = StateDecoding
	final := StateTruncated
	var failure error
	var elapsed time.Duration

	for i := 0; i < d.dims.MaxSequenceLength-1; i++ {
		steps++
		start := time.Now()
		next, err := d.step(position)
		elapsed += time.Since(start)
		if err != nil {
			d.logger.Warn("Decoder step failed; returning partial result",
				zap.Int("position", position), zap.Error(err))
			final, failure = StateInterrupted, err
			break
		}
		if next == EndToken {
			final = StateDone
			break
		}
		d.tokens[position] = next
		if err := d.embed(position, next); err != nil {
			final, failure = StateInterrupted, err
			break
		}
		d.mask[position] = 1
		position++
		if position >= limit {
			final = StateTruncated
			break
		}
	}

	metrics.RecordStageLatency("decoder", elapsed.Seconds())
	d.checkBudget("decoder", elapsed, zap.Int("steps", steps))

	return Result{Tokens: d.result(position), State: final, Steps: steps, Err: failure}
}

func (d *decodeEngine) encode(image []float32) error {
	const op = "encode"
	start := time.Now()

	if err := d.pool.encoderIn[0].Write(image); err != nil {
		return newError(KindBuffer, op, fmt.Errorf("writing image: %w", err))
	}
	if err := d.engine.Run(d.encoder, d.pool.encoderIn, d.pool.encoderOut); err != nil {
		return newError(KindRuntime, op, err)
	}
	if err := d.pool.encoderOut[0].Read(d.hidden); err != nil {
		return newError(KindBuffer, op, fmt.Errorf("reading hidden states: %w", err))
	}

	elapsed := time.Since(start)
	metrics.RecordStageLatency("encoder", elapsed.Seconds())
	d.checkBudget("encoder", elapsed)
	return nil
}

// step runs the decoder once and picks the next token from row position-1.
func (d *decodeEngine) step(position int) (int32, error) {
	const op = "decode step"
	in := d.pool.decoderIn

	if err := in[decoderHiddenInput].Write(d.hidden); err != nil {
		return 0, newError(KindBuffer, op, fmt.Errorf("writing hidden states: %w", err))
	}
	if err := in[decoderMaskInput].Write(d.mask); err != nil {
		return 0, newError(KindBuffer, op, fmt.Errorf("writing attention mask: %w", err))
	}
	if err := in[decoderEmbedInput].Write(d.window); err != nil {
		return 0, newError(KindBuffer, op, fmt.Errorf("writing embedding window: %w", err))
	}
	if err := d.engine.Run(d.decoder, in, d.pool.decoderOut); err != nil {
		return 0, newError(KindRuntime, op, err)
	}
	if err := d.pool.decoderOut[0].Read(d.logits); err != nil {
		return 0, newError(KindBuffer, op, fmt.Errorf("reading logits: %w", err))
	}

	vocab := d.dims.VocabSize
	row := (position - 1) * vocab
	return argmax(d.logits[row : row+vocab]), nil
}

// embed copies the embedding of token into window slot position.
func (d *decodeEngine) embed(position int, token int32) error {
	h := d.dims.HiddenSize
	if !d.embeddings.CopyRow(token, d.window[position*h:(position+1)*h]) {
		return errorf(KindConfiguration, "embed", "token %d has no embedding", token)
	}
	return nil
}

func (d *decodeEngine) result(position int) []int32 {
	out := make([]int32, position)
	copy(out, d.tokens[:position])
	return out
}

func (d *decodeEngine) checkBudget(stage string, elapsed time.Duration, fields ...zap.Field) {
	if d.budget <= 0 || elapsed <= d.budget {
		return
	}
	metrics.RecordBudgetExceeded(stage)
	d.logger.Warn("Stage exceeded latency budget",
		append([]zap.Field{
			zap.String("stage", stage),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", d.budget),
		}, fields...)...)
}

// argmax returns the first index holding the maximum. Ties keep the lower
// index because only a strictly greater value replaces the current best.
func argmax(row []float32) int32 {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return int32(best)
}
