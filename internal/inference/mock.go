package inference

import (
	"fmt"
)

// MockModelSpec describes the signature and behaviour of one mock model.
type MockModelSpec struct {
	// Inputs and Outputs hold the float32 element count of each tensor.
	Inputs  []int
	Outputs []int
	// CompileErr, if set, is returned by Compile.
	CompileErr error
	// PartiallyAccelerated makes IsFullyAccelerated report false for GPU
	// compilations.
	PartiallyAccelerated bool
	// AccelQueryErr, if set, is returned by IsFullyAccelerated.
	AccelQueryErr error
	// BufferErr, if set, is returned by CreateInputBuffers.
	BufferErr error
}

// MockConfig sizes the default encoder/decoder pair of a MockEngine.
type MockConfig struct {
	ImageFloats   int
	EncoderFloats int
	MaxSeqLen     int
	VocabSize     int
	HiddenSize    int
	EndToken      int32
}

// MockEngine is a scriptable Engine for tests and for running the service
// without the ONNX shared library. The decoder emits Script[p-1] when p
// positions are filled and EndToken once the script is exhausted.
type MockEngine struct {
	Config MockConfig
	Models map[string]*MockModelSpec

	// Script is the token sequence the default decoder produces.
	Script []int32
	// RunFunc replaces the default model behaviour when set.
	RunFunc func(model string, inputs, outputs []*MockBuffer) error

	// OpenErr, if set, is returned by Open.
	OpenErr error
	// FailRunAt maps a model name to the 1-based run that fails.
	FailRunAt map[string]int
	// FailReadAt maps a model name to the 1-based output read that fails.
	FailReadAt map[string]int
	// ShouldError makes every Run fail with ErrorMessage.
	ShouldError  bool
	ErrorMessage string

	// CallCount tracks the number of Run calls across all models.
	CallCount int
	// RunCount tracks Run calls per model.
	RunCount map[string]int
	// CompileCalls lists compiled model names in order.
	CompileCalls []string
	// Accelerators records the accelerator requested per model.
	Accelerators map[string]Accelerator
	// MaskHistory holds a copy of the decoder attention mask for each run.
	MaskHistory [][]float32
	// Env is the last options passed to Open.
	Env EnvOptions

	Opened       bool
	Closed       bool
	ClosedModels []string
	LiveBuffers  int

	readCount map[string]int
}

// NewMock creates a MockEngine with an "encoder" and a "decoder" model whose
// tensors follow the OCR session contract for cfg.
func NewMock(cfg MockConfig) *MockEngine {
	return &MockEngine{
		Config: cfg,
		Models: map[string]*MockModelSpec{
			"encoder": {
				Inputs:  []int{cfg.ImageFloats},
				Outputs: []int{cfg.EncoderFloats},
			},
			"decoder": {
				Inputs:  []int{cfg.EncoderFloats, cfg.MaxSeqLen, cfg.MaxSeqLen * cfg.HiddenSize},
				Outputs: []int{cfg.MaxSeqLen * cfg.VocabSize},
			},
		},
		RunCount:     make(map[string]int),
		Accelerators: make(map[string]Accelerator),
		readCount:    make(map[string]int),
	}
}

// NewMockWithScript creates a MockEngine whose decoder emits script.
func NewMockWithScript(cfg MockConfig, script []int32) *MockEngine {
	m := NewMock(cfg)
	m.Script = script
	return m
}

// SetError configures the mock to fail every Run call
func (m *MockEngine) SetError(msg string) {
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockEngine) ClearError() {
	m.ShouldError = false
	m.ErrorMessage = ""
}

func (m *MockEngine) Open(opts EnvOptions) error {
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.Env = opts
	m.Opened = true
	m.Closed = false
	return nil
}

func (m *MockEngine) Compile(name string, model []byte, accel Accelerator) (Model, error) {
	m.CompileCalls = append(m.CompileCalls, name)
	if !m.Opened {
		return nil, fmt.Errorf("mock environment is not open")
	}
	spec, ok := m.Models[name]
	if !ok {
		return nil, fmt.Errorf("unknown mock model %q", name)
	}
	if spec.CompileErr != nil {
		return nil, spec.CompileErr
	}
	if len(model) == 0 {
		return nil, fmt.Errorf("model %s is empty", name)
	}
	m.Accelerators[name] = accel
	return &MockModel{name: name, engine: m, accel: accel}, nil
}

func (m *MockEngine) IsFullyAccelerated(model Model) (bool, error) {
	mm, err := m.model(model)
	if err != nil {
		return false, err
	}
	spec := m.Models[mm.name]
	if spec.AccelQueryErr != nil {
		return false, spec.AccelQueryErr
	}
	return mm.accel == AcceleratorGPU && !spec.PartiallyAccelerated, nil
}

func (m *MockEngine) CreateInputBuffers(model Model) ([]Buffer, error) {
	mm, err := m.model(model)
	if err != nil {
		return nil, err
	}
	spec := m.Models[mm.name]
	if spec.BufferErr != nil {
		return nil, spec.BufferErr
	}
	return m.buffers(mm.name, "input", spec.Inputs), nil
}

func (m *MockEngine) CreateOutputBuffers(model Model) ([]Buffer, error) {
	mm, err := m.model(model)
	if err != nil {
		return nil, err
	}
	return m.buffers(mm.name, "output", m.Models[mm.name].Outputs), nil
}

func (m *MockEngine) Run(model Model, inputs, outputs []Buffer) error {
	m.CallCount++

	mm, err := m.model(model)
	if err != nil {
		return err
	}
	m.RunCount[mm.name]++

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return fmt.Errorf("%s", m.ErrorMessage)
		}
		return fmt.Errorf("mock inference error")
	}
	if at, ok := m.FailRunAt[mm.name]; ok && at == m.RunCount[mm.name] {
		return fmt.Errorf("mock %s run %d failed", mm.name, at)
	}

	in, err := mockBuffers(inputs)
	if err != nil {
		return err
	}
	out, err := mockBuffers(outputs)
	if err != nil {
		return err
	}

	if m.RunFunc != nil {
		return m.RunFunc(mm.name, in, out)
	}

	switch mm.name {
	case "encoder":
		return m.runEncoder(in, out)
	case "decoder":
		return m.runDecoder(in, out)
	default:
		return nil
	}
}

func (m *MockEngine) Close() error {
	m.Opened = false
	m.Closed = true
	return nil
}

// runEncoder fills the hidden states with a value derived from the image so
// that tests can tell real runs from zero buffers.
func (m *MockEngine) runEncoder(in, out []*MockBuffer) error {
	if len(in) < 1 || len(out) < 1 {
		return fmt.Errorf("encoder expects 1 input and 1 output")
	}
	var sum float32
	for _, v := range in[0].Data {
		sum += v
	}
	for i := range out[0].Data {
		out[0].Data[i] = sum
	}
	return nil
}

func (m *MockEngine) runDecoder(in, out []*MockBuffer) error {
	if len(in) < 3 || len(out) < 1 {
		return fmt.Errorf("decoder expects 3 inputs and 1 output")
	}

	mask := in[1].Data
	snapshot := make([]float32, len(mask))
	copy(snapshot, mask)
	m.MaskHistory = append(m.MaskHistory, snapshot)

	logits := out[0].Data
	for i := range logits {
		logits[i] = 0
	}

	position := 0
	for _, v := range mask {
		if v != 0 {
			position++
		}
	}
	if position == 0 {
		// Warmup with an empty mask.
		return nil
	}

	vocab := m.Config.VocabSize
	row := position - 1
	token := m.Config.EndToken
	if row < len(m.Script) {
		token = m.Script[row]
	}
	if int(token) >= vocab || (row+1)*vocab > len(logits) {
		return fmt.Errorf("mock decoder cannot emit token %d at row %d", token, row)
	}
	logits[row*vocab+int(token)] = 1
	return nil
}

func (m *MockEngine) buffers(model, kind string, sizes []int) []Buffer {
	buffers := make([]Buffer, len(sizes))
	for i, n := range sizes {
		m.LiveBuffers++
		buffers[i] = &MockBuffer{
			name:   fmt.Sprintf("%s_%s_%d", model, kind, i),
			model:  model,
			output: kind == "output",
			Data:   make([]float32, n),
			engine: m,
		}
	}
	return buffers
}

func (m *MockEngine) model(model Model) (*MockModel, error) {
	mm, ok := model.(*MockModel)
	if !ok || mm == nil {
		return nil, fmt.Errorf("model handle is not a mock model")
	}
	if mm.closed {
		return nil, fmt.Errorf("model %s is closed", mm.name)
	}
	return mm, nil
}

func mockBuffers(buffers []Buffer) ([]*MockBuffer, error) {
	out := make([]*MockBuffer, len(buffers))
	for i, b := range buffers {
		mb, ok := b.(*MockBuffer)
		if !ok {
			return nil, fmt.Errorf("buffer %d is not a mock buffer", i)
		}
		if mb.closed {
			return nil, fmt.Errorf("buffer %s is closed", mb.name)
		}
		out[i] = mb
	}
	return out, nil
}

// MockModel is the handle returned by MockEngine.Compile.
type MockModel struct {
	name   string
	engine *MockEngine
	accel  Accelerator
	closed bool
}

func (mm *MockModel) Name() string { return mm.name }

func (mm *MockModel) Close() error {
	if !mm.closed {
		mm.closed = true
		mm.engine.ClosedModels = append(mm.engine.ClosedModels, mm.name)
	}
	return nil
}

// MockBuffer is an in-memory Buffer.
type MockBuffer struct {
	name   string
	model  string
	output bool
	engine *MockEngine
	closed bool

	// Data is the buffer contents.
	Data []float32
}

func (b *MockBuffer) Name() string { return b.name }

func (b *MockBuffer) Size() (int, error) {
	if b.closed {
		return 0, fmt.Errorf("buffer %s is closed", b.name)
	}
	return len(b.Data) * 4, nil
}

func (b *MockBuffer) Write(values []float32) error {
	if b.closed {
		return fmt.Errorf("buffer %s is closed", b.name)
	}
	if len(values) > len(b.Data) {
		return fmt.Errorf("write to %s has wrong size: got %d floats, capacity %d", b.name, len(values), len(b.Data))
	}
	copy(b.Data, values)
	return nil
}

func (b *MockBuffer) Read(dst []float32) error {
	if b.closed {
		return fmt.Errorf("buffer %s is closed", b.name)
	}
	if b.output {
		b.engine.readCount[b.model]++
		if at, ok := b.engine.FailReadAt[b.model]; ok && at == b.engine.readCount[b.model] {
			return fmt.Errorf("mock read %d from %s failed", at, b.name)
		}
	}
	if len(dst) > len(b.Data) {
		return fmt.Errorf("read from %s has wrong size: got %d floats, capacity %d", b.name, len(dst), len(b.Data))
	}
	copy(dst, b.Data)
	return nil
}

func (b *MockBuffer) Close() error {
	if !b.closed {
		b.closed = true
		b.engine.LiveBuffers--
	}
	return nil
}

// Ensure MockEngine implements Engine at compile time
var _ Engine = (*MockEngine)(nil)
