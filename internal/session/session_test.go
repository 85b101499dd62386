package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SyedDaiam9101/ocr-service/internal/embedding"
	"github.com/SyedDaiam9101/ocr-service/internal/inference"
)

func testDims() ModelDims {
	return ModelDims{ImageSize: 2, MaxSequenceLength: 4, VocabSize: 10, HiddenSize: 2}
}

func testEngine(script ...int32) *inference.MockEngine {
	return inference.NewMockWithScript(inference.MockConfig{
		ImageFloats:   12,
		EncoderFloats: 8,
		MaxSeqLen:     4,
		VocabSize:     10,
		HiddenSize:    2,
		EndToken:      EndToken,
	}, script)
}

// testEmbeddings gives token t the row [10t, 10t+1].
func testEmbeddings() []byte {
	values := make([]float32, 20)
	for tok := 0; tok < 10; tok++ {
		values[2*tok] = float32(tok * 10)
		values[2*tok+1] = float32(tok*10 + 1)
	}
	return embedding.Encode(values)
}

func testConfig(t *testing.T) Config {
	return Config{
		Encoder:           []byte("encoder"),
		Decoder:           []byte("decoder"),
		Embeddings:        testEmbeddings(),
		CacheDir:          t.TempDir(),
		AcceleratorLibDir: "/opt/accel",
	}
}

func testImage() []float32 {
	image := make([]float32, 12)
	for i := range image {
		image[i] = 1
	}
	return image
}

func newTestSession(t *testing.T, engine inference.Engine) *Session {
	t.Helper()
	s := New(engine, Options{Dims: testDims(), ReleaseDelay: -1})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func initSession(t *testing.T, engine *inference.MockEngine) *Session {
	t.Helper()
	s := newTestSession(t, engine)
	require.NoError(t, s.Initialize(testConfig(t)))
	return s
}

func mockBuffer(t *testing.T, b inference.Buffer) *inference.MockBuffer {
	t.Helper()
	mb, ok := b.(*inference.MockBuffer)
	require.True(t, ok)
	return mb
}

func TestInitialize_Success(t *testing.T) {
	engine := testEngine()
	s := initSession(t, engine)

	assert.True(t, s.IsReady())
	assert.True(t, s.IsUsingGpu())
	assert.True(t, s.IsEncoderUsingGpu())
	assert.True(t, s.IsDecoderUsingGpu())

	assert.Equal(t, []string{"encoder", "decoder"}, engine.CompileCalls)
	assert.Equal(t, inference.AcceleratorGPU, engine.Accelerators["encoder"])
	assert.Equal(t, inference.AcceleratorGPU, engine.Accelerators["decoder"])
	assert.Equal(t, "/opt/accel", engine.Env.LibraryDir)

	// One warmup pass per model.
	assert.Equal(t, 1, engine.RunCount["encoder"])
	assert.Equal(t, 1, engine.RunCount["decoder"])
	require.Len(t, engine.MaskHistory, 1)
	assert.Equal(t, []float32{0, 0, 0, 0}, engine.MaskHistory[0])
	assert.Equal(t, 6, engine.LiveBuffers)
}

func TestInitialize_TwiceFails(t *testing.T) {
	s := initSession(t, testEngine())
	err := s.Initialize(testConfig(t))
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.True(t, s.IsReady())
}

func TestInitialize_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty encoder", func(c *Config) { c.Encoder = nil }},
		{"empty decoder", func(c *Config) { c.Decoder = nil }},
		{"short embeddings", func(c *Config) { c.Embeddings = c.Embeddings[:len(c.Embeddings)-4] }},
		{"missing embeddings", func(c *Config) { c.Embeddings = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := testEngine()
			s := newTestSession(t, engine)
			cfg := testConfig(t)
			tt.mutate(&cfg)

			err := s.Initialize(cfg)
			require.Error(t, err)
			assert.Equal(t, KindConfiguration, KindOf(err))
			assert.False(t, s.IsReady())
			assert.Empty(t, engine.CompileCalls)
		})
	}
}

func TestInitialize_OpenFailure(t *testing.T) {
	engine := testEngine()
	engine.OpenErr = errors.New("library not found")
	s := newTestSession(t, engine)

	err := s.Initialize(testConfig(t))
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.ErrorContains(t, err, "library not found")
}

func TestInitialize_RejectsPartialAcceleration(t *testing.T) {
	t.Run("decoder", func(t *testing.T) {
		engine := testEngine()
		engine.Models["decoder"].PartiallyAccelerated = true
		s := newTestSession(t, engine)

		err := s.Initialize(testConfig(t))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAccelerationUnavailable))

		// Compilation itself succeeded for both models.
		assert.Equal(t, []string{"encoder", "decoder"}, engine.CompileCalls)
		assert.Equal(t, []string{"decoder", "encoder"}, engine.ClosedModels)
		assert.True(t, engine.Closed)
		assert.False(t, s.IsReady())
		assert.False(t, s.IsUsingGpu())
		assert.Zero(t, engine.CallCount)
	})

	t.Run("encoder", func(t *testing.T) {
		engine := testEngine()
		engine.Models["encoder"].PartiallyAccelerated = true
		s := newTestSession(t, engine)

		err := s.Initialize(testConfig(t))
		assert.Equal(t, KindAccelerationUnavailable, KindOf(err))
		assert.Equal(t, []string{"encoder"}, engine.CompileCalls, "decoder is never compiled")
		assert.Equal(t, []string{"encoder"}, engine.ClosedModels)
	})

	t.Run("query failure", func(t *testing.T) {
		engine := testEngine()
		engine.Models["decoder"].AccelQueryErr = errors.New("query failed")
		s := newTestSession(t, engine)

		err := s.Initialize(testConfig(t))
		assert.Equal(t, KindAccelerationUnavailable, KindOf(err))
		assert.ElementsMatch(t, []string{"encoder", "decoder"}, engine.ClosedModels)
	})
}

func TestInitialize_CompileFailure(t *testing.T) {
	engine := testEngine()
	engine.Models["decoder"].CompileErr = errors.New("no GPU delegate")
	s := newTestSession(t, engine)

	err := s.Initialize(testConfig(t))
	assert.Equal(t, KindAccelerationUnavailable, KindOf(err))
	assert.ErrorContains(t, err, "no GPU delegate")
	assert.Equal(t, []string{"encoder"}, engine.ClosedModels)
	assert.True(t, engine.Closed)
}

func TestInitialize_BufferErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*inference.MockEngine)
	}{
		{"creation failure", func(m *inference.MockEngine) { m.Models["decoder"].BufferErr = errors.New("out of memory") }},
		{"missing decoder input", func(m *inference.MockEngine) { m.Models["decoder"].Inputs = []int{8, 4} }},
		{"mask size", func(m *inference.MockEngine) { m.Models["decoder"].Inputs[1] = 5 }},
		{"hidden mismatch", func(m *inference.MockEngine) { m.Models["decoder"].Inputs[0] = 6 }},
		{"embedding window size", func(m *inference.MockEngine) { m.Models["decoder"].Inputs[2] = 7 }},
		{"small image input", func(m *inference.MockEngine) { m.Models["encoder"].Inputs[0] = 11 }},
		{"small logits", func(m *inference.MockEngine) { m.Models["decoder"].Outputs[0] = 39 }},
		{"empty encoder output", func(m *inference.MockEngine) { m.Models["encoder"].Outputs[0] = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := testEngine()
			tt.mutate(engine)
			s := newTestSession(t, engine)

			err := s.Initialize(testConfig(t))
			require.Error(t, err)
			assert.Equal(t, KindBuffer, KindOf(err))
			assert.Zero(t, engine.LiveBuffers, "buffers leaked")
			assert.Len(t, engine.ClosedModels, 2)
			assert.False(t, s.IsReady())
		})
	}
}

func TestInitialize_WarmupFailure(t *testing.T) {
	engine := testEngine()
	engine.FailRunAt = map[string]int{"decoder": 1}
	s := newTestSession(t, engine)

	err := s.Initialize(testConfig(t))
	assert.Equal(t, KindRuntime, KindOf(err))
	assert.Zero(t, engine.LiveBuffers)
	assert.Len(t, engine.ClosedModels, 2)
	assert.True(t, engine.Closed)
	assert.False(t, s.IsReady())
}

func TestInferTokens_Done(t *testing.T) {
	engine := testEngine(7, 8)
	s := initSession(t, engine)

	res := s.InferTokens(testImage(), 0)
	require.NoError(t, res.Err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []int32{StartToken, 7, 8}, res.Tokens)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 1+3, engine.RunCount["decoder"])
}

func TestInferTokens_DecoderInputs(t *testing.T) {
	engine := testEngine(7, 8)
	s := initSession(t, engine)

	s.InferTokens(testImage(), 0)

	// Warmup, then one mask per step with exactly position leading ones.
	require.Len(t, engine.MaskHistory, 4)
	assert.Equal(t, []float32{1, 0, 0, 0}, engine.MaskHistory[1])
	assert.Equal(t, []float32{1, 1, 0, 0}, engine.MaskHistory[2])
	assert.Equal(t, []float32{1, 1, 1, 0}, engine.MaskHistory[3])

	// The mock encoder writes the image sum into every hidden slot.
	hidden := mockBuffer(t, s.pool.decoderIn[decoderHiddenInput])
	for _, v := range hidden.Data {
		assert.Equal(t, float32(12), v)
	}

	window := mockBuffer(t, s.pool.decoderIn[decoderEmbedInput])
	assert.Equal(t, []float32{20, 21, 70, 71, 80, 81, 0, 0}, window.Data)
}

func TestInferTokens_StateResetBetweenCalls(t *testing.T) {
	engine := testEngine(7, 8)
	s := initSession(t, engine)

	first := s.InferTokens(testImage(), 0)
	engine.Script = []int32{9}
	engine.MaskHistory = nil
	second := s.InferTokens(testImage(), 0)

	assert.Equal(t, []int32{StartToken, 7, 8}, first.Tokens)
	assert.Equal(t, []int32{StartToken, 9}, second.Tokens)
	assert.Equal(t, []float32{1, 0, 0, 0}, engine.MaskHistory[0])
}

func TestInferTokens_Truncation(t *testing.T) {
	tests := []struct {
		name      string
		script    []int32
		maxTokens int
		want      []int32
		state     State
		decodes   int
	}{
		{"max tokens", []int32{5, 6, 7}, 2, []int32{2, 5}, StateTruncated, 1},
		{"single token", []int32{5}, 1, []int32{2}, StateTruncated, 0},
		{"capacity", []int32{5, 6, 7, 8, 9}, 0, []int32{2, 5, 6, 7}, StateTruncated, 3},
		{"limit above capacity", []int32{5, 6, 7, 8}, 100, []int32{2, 5, 6, 7}, StateTruncated, 3},
		{"negative limit", []int32{5, 6, 7, 8}, -1, []int32{2, 5, 6, 7}, StateTruncated, 3},
		{"end before limit", []int32{5}, 3, []int32{2, 5}, StateDone, 2},
		{"end at last step", []int32{5, 6}, 0, []int32{2, 5, 6}, StateDone, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := testEngine(tt.script...)
			s := initSession(t, engine)

			res := s.InferTokens(testImage(), tt.maxTokens)
			assert.Equal(t, tt.want, res.Tokens)
			assert.Equal(t, tt.state, res.State)
			assert.Equal(t, tt.decodes, engine.RunCount["decoder"]-1)

			dims := testDims()
			limit := dims.MaxSequenceLength
			if tt.maxTokens > 0 && tt.maxTokens < limit {
				limit = tt.maxTokens
			}
			assert.GreaterOrEqual(t, len(res.Tokens), 1)
			assert.LessOrEqual(t, len(res.Tokens), limit)
			assert.LessOrEqual(t, engine.RunCount["decoder"]-1, dims.MaxSequenceLength-1)
			assert.Equal(t, StartToken, res.Tokens[0])
		})
	}
}

func TestInferTokens_TieBreakKeepsFirstIndex(t *testing.T) {
	engine := testEngine()
	engine.RunFunc = func(model string, in, out []*inference.MockBuffer) error {
		if model == "encoder" {
			return nil
		}
		logits := out[0].Data
		clear(logits)
		position := 0
		for _, v := range in[1].Data {
			if v != 0 {
				position++
			}
		}
		if position == 0 {
			return nil
		}
		row := logits[(position-1)*10 : position*10]
		if position == 1 {
			row[9], row[6] = 5, 5
		} else {
			row[EndToken] = 1
		}
		return nil
	}
	s := initSession(t, engine)

	res := s.InferTokens(testImage(), 0)
	assert.Equal(t, []int32{StartToken, 6}, res.Tokens)
	assert.Equal(t, StateDone, res.State)
}

func TestArgmax(t *testing.T) {
	tests := []struct {
		name string
		row  []float32
		want int32
	}{
		{"single max", []float32{0, 3, 1}, 1},
		{"tie keeps first", []float32{2, 5, 5, 1}, 1},
		{"all equal", []float32{1, 1, 1}, 0},
		{"negative values", []float32{-3, -1, -2}, 1},
		{"single element", []float32{4}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, argmax(tt.row))
		})
	}
}

func TestInferTokens_EncoderFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*inference.MockEngine)
		kind   Kind
	}{
		// Run and read #1 belong to warmup.
		{"run", func(m *inference.MockEngine) { m.FailRunAt = map[string]int{"encoder": 2} }, KindRuntime},
		{"read", func(m *inference.MockEngine) { m.FailReadAt = map[string]int{"encoder": 2} }, KindBuffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := testEngine(5, 6)
			tt.mutate(engine)
			s := initSession(t, engine)

			res := s.InferTokens(testImage(), 0)
			assert.Equal(t, StateFailed, res.State)
			assert.Empty(t, res.Tokens)
			assert.Equal(t, tt.kind, KindOf(res.Err))
			assert.Equal(t, 1, engine.RunCount["decoder"], "decoder never runs after encoder failure")
		})
	}
}

func TestInferTokens_PartialResultOnDecoderFailure(t *testing.T) {
	engine := testEngine(5, 6, 7)
	// Run #1 is warmup, #2 decodes token 5, #3 fails.
	engine.FailRunAt = map[string]int{"decoder": 3}
	s := initSession(t, engine)

	res := s.InferTokens(testImage(), 0)
	assert.Equal(t, StateInterrupted, res.State)
	assert.Equal(t, []int32{StartToken, 5}, res.Tokens)
	assert.Equal(t, KindRuntime, KindOf(res.Err))
	assert.True(t, s.IsReady(), "decode failures do not tear down the session")
}

func TestInferTokens_PartialResultOnLogitsReadFailure(t *testing.T) {
	engine := testEngine(5, 6, 7)
	// Warmup never reads decoder output, so read #2 is the second step.
	engine.FailReadAt = map[string]int{"decoder": 2}
	s := initSession(t, engine)

	res := s.InferTokens(testImage(), 0)
	assert.Equal(t, StateInterrupted, res.State)
	assert.Equal(t, []int32{StartToken, 5}, res.Tokens)
	assert.Equal(t, KindBuffer, KindOf(res.Err))
}

func TestInferTokens_RecoversFromPanic(t *testing.T) {
	engine := testEngine()
	steps := 0
	engine.RunFunc = func(model string, in, out []*inference.MockBuffer) error {
		if model == "encoder" {
			return nil
		}
		clear(out[0].Data)
		if in[1].Data[0] == 0 {
			return nil
		}
		steps++
		if steps == 2 {
			panic("driver fault")
		}
		out[0].Data[8] = 1
		return nil
	}
	s := initSession(t, engine)

	res := s.InferTokens(testImage(), 0)
	assert.Equal(t, StateInterrupted, res.State)
	assert.Equal(t, []int32{StartToken, 8}, res.Tokens)
	assert.Equal(t, KindRuntime, KindOf(res.Err))
	assert.ErrorContains(t, res.Err, "driver fault")
}

func TestInferTokens_InvalidImage(t *testing.T) {
	engine := testEngine(5)
	s := initSession(t, engine)

	res := s.InferTokens(make([]float32, 5), 0)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, KindConfiguration, KindOf(res.Err))
	assert.Equal(t, 1, engine.RunCount["encoder"])
}

func TestInferTokens_NotReady(t *testing.T) {
	s := newTestSession(t, testEngine(5))

	res := s.InferTokens(testImage(), 0)
	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, res.Tokens)
	assert.True(t, errors.Is(res.Err, ErrNotReady))
}

func TestInferTokens_LatencyBudgetOnlyWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	engine := testEngine(5)
	s := New(engine, Options{
		Dims:          testDims(),
		LatencyBudget: time.Nanosecond,
		ReleaseDelay:  -1,
		Logger:        zap.New(core),
	})
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Initialize(testConfig(t)))

	engine.RunFunc = nil
	res := s.InferTokens(testImage(), 0)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []int32{StartToken, 5}, res.Tokens)
	assert.NotZero(t, logs.FilterMessage("Stage exceeded latency budget").Len())
}

func TestClose_ReleasesEverything(t *testing.T) {
	engine := testEngine(5)
	s := initSession(t, engine)

	require.NoError(t, s.Close())
	assert.Zero(t, engine.LiveBuffers)
	assert.Equal(t, []string{"decoder", "encoder"}, engine.ClosedModels)
	assert.True(t, engine.Closed)
	assert.False(t, s.IsReady())
	assert.False(t, s.IsUsingGpu())

	res := s.InferTokens(testImage(), 0)
	assert.Equal(t, KindNotReady, KindOf(res.Err))

	// Second close is a no-op.
	require.NoError(t, s.Close())
}

func TestClose_BeforeInitialize(t *testing.T) {
	engine := testEngine()
	s := newTestSession(t, engine)
	require.NoError(t, s.Close())
	assert.False(t, engine.Closed)
}

func TestClose_WaitsReleaseDelayAfterGPU(t *testing.T) {
	engine := testEngine(5)
	s := New(engine, Options{Dims: testDims(), ReleaseDelay: 20 * time.Millisecond})
	require.NoError(t, s.Initialize(testConfig(t)))

	start := time.Now()
	require.NoError(t, s.Close())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReinitializeAfterClose(t *testing.T) {
	engine := testEngine(5)
	s := initSession(t, engine)
	require.NoError(t, s.Close())

	require.NoError(t, s.Initialize(testConfig(t)))
	assert.True(t, s.IsReady())

	res := s.InferTokens(testImage(), 0)
	assert.Equal(t, []int32{StartToken, 5}, res.Tokens)
	assert.Equal(t, 6, engine.LiveBuffers)
}

func TestModelDimsValidate(t *testing.T) {
	assert.NoError(t, DefaultDims().Validate())
	assert.Equal(t, 224*224*3, DefaultDims().ImageFloats())
	assert.Error(t, ModelDims{ImageSize: 2, MaxSequenceLength: 1, VocabSize: 10, HiddenSize: 2}.Validate())
	assert.Error(t, ModelDims{ImageSize: 2, MaxSequenceLength: 4, VocabSize: 3, HiddenSize: 2}.Validate())
	assert.Error(t, ModelDims{ImageSize: 0, MaxSequenceLength: 4, VocabSize: 10, HiddenSize: 2}.Validate())
}

func TestErrorKinds(t *testing.T) {
	err := errorf(KindBuffer, "read", "short read")
	assert.Equal(t, "read: BufferError: short read", err.Error())
	assert.True(t, errors.Is(err, ErrBuffer))
	assert.False(t, errors.Is(err, ErrRuntime))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	wrapped := errors.Join(errors.New("context"), err)
	assert.Equal(t, KindBuffer, KindOf(wrapped))
	assert.Equal(t, "NotReady", KindNotReady.String())
}
