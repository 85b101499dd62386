package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// disableCPUFallbackKey makes session creation fail when any node would be
// placed on the CPU execution provider.
const disableCPUFallbackKey = "session.disable_cpu_ep_fallback"

// ONNXEngine implements Engine on top of ONNX Runtime. GPU compilation uses
// the CUDA execution provider with CPU fallback disabled, so a successfully
// compiled GPU model is fully accelerated.
type ONNXEngine struct {
	mu       sync.Mutex
	opened   bool
	cacheDir string
	staged   []string
}

// NewONNX creates an engine. Call Open before compiling models.
func NewONNX() *ONNXEngine {
	return &ONNXEngine{}
}

// Open initializes the ONNX Runtime environment, loading the shared library
// from opts.LibraryDir when set.
func (e *ONNXEngine) Open(opts EnvOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.opened {
		return fmt.Errorf("ONNX environment already open")
	}

	if opts.LibraryDir != "" {
		ort.SetSharedLibraryPath(filepath.Join(opts.LibraryDir, sharedLibraryName()))
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	e.cacheDir = opts.CacheDir
	e.opened = true
	return nil
}

// Compile creates an ONNX Runtime session for the model.
func (e *ONNXEngine) Compile(name string, model []byte, accel Accelerator) (Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opened {
		return nil, fmt.Errorf("ONNX environment is not open")
	}
	if len(model) == 0 {
		return nil, fmt.Errorf("model %s is empty", name)
	}

	var stagedPath string
	if e.cacheDir != "" {
		stagedPath = filepath.Join(e.cacheDir, name+".onnx")
		if err := os.WriteFile(stagedPath, model, 0o600); err != nil {
			return nil, fmt.Errorf("failed to stage model %s: %w", name, err)
		}
		e.staged = append(e.staged, stagedPath)
	}

	var inputs, outputs []ort.InputOutputInfo
	var err error
	if stagedPath != "" {
		inputs, outputs, err = ort.GetInputOutputInfo(stagedPath)
	} else {
		inputs, outputs, err = ort.GetInputOutputInfoWithONNXData(model)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s signature: %w", name, err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	accelerated := false
	if accel == AcceleratorGPU {
		if err := appendCUDA(opts); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to enable GPU for %s: %w", name, err)
		}
		if err := opts.AddSessionConfigEntry(disableCPUFallbackKey, "1"); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to disable CPU fallback for %s: %w", name, err)
		}
		accelerated = true
	}

	inputNames := infoNames(inputs)
	outputNames := infoNames(outputs)

	var session *ort.DynamicAdvancedSession
	if stagedPath != "" {
		session, err = ort.NewDynamicAdvancedSession(stagedPath, inputNames, outputNames, opts)
	} else {
		session, err = ort.NewDynamicAdvancedSessionWithONNXData(model, inputNames, outputNames, opts)
	}
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", name, err)
	}

	return &onnxModel{
		name:        name,
		session:     session,
		opts:        opts,
		inputs:      inputs,
		outputs:     outputs,
		accelerated: accelerated,
	}, nil
}

// IsFullyAccelerated reports whether m was compiled GPU-only.
func (e *ONNXEngine) IsFullyAccelerated(m Model) (bool, error) {
	om, err := asONNXModel(m)
	if err != nil {
		return false, err
	}
	return om.accelerated, nil
}

// CreateInputBuffers allocates zeroed float32 tensors for every model input.
func (e *ONNXEngine) CreateInputBuffers(m Model) ([]Buffer, error) {
	om, err := asONNXModel(m)
	if err != nil {
		return nil, err
	}
	return createBuffers(om.inputs)
}

// CreateOutputBuffers allocates zeroed float32 tensors for every model output.
func (e *ONNXEngine) CreateOutputBuffers(m Model) ([]Buffer, error) {
	om, err := asONNXModel(m)
	if err != nil {
		return nil, err
	}
	return createBuffers(om.outputs)
}

// Run executes the session with the bound tensors.
func (e *ONNXEngine) Run(m Model, inputs, outputs []Buffer) error {
	om, err := asONNXModel(m)
	if err != nil {
		return err
	}
	if om.session == nil {
		return fmt.Errorf("inference session is nil")
	}

	in, err := ortValues(inputs)
	if err != nil {
		return err
	}
	out, err := ortValues(outputs)
	if err != nil {
		return err
	}

	if err := om.session.Run(in, out); err != nil {
		return fmt.Errorf("inference failed for %s: %w", om.name, err)
	}
	return nil
}

// Close removes staged model files and destroys the ONNX environment.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, path := range e.staged {
		_ = os.Remove(path)
	}
	e.staged = nil

	if !e.opened {
		return nil
	}
	e.opened = false
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			return fmt.Errorf("failed to destroy ONNX environment: %w", err)
		}
	}
	return nil
}

func appendCUDA(opts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOpts.Destroy()
	return opts.AppendExecutionProviderCUDA(cudaOpts)
}

func sharedLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

func infoNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

func createBuffers(infos []ort.InputOutputInfo) ([]Buffer, error) {
	buffers := make([]Buffer, 0, len(infos))
	for _, info := range infos {
		if info.DataType != ort.TensorElementDataTypeFloat {
			closeBuffers(buffers)
			return nil, fmt.Errorf("tensor %s has unsupported type %v", info.Name, info.DataType)
		}

		// Dynamic dimensions (batch) are fixed to 1.
		dims := make([]int64, len(info.Dimensions))
		for i, d := range info.Dimensions {
			if d <= 0 {
				d = 1
			}
			dims[i] = d
		}

		tensor, err := ort.NewEmptyTensor[float32](ort.NewShape(dims...))
		if err != nil {
			closeBuffers(buffers)
			return nil, fmt.Errorf("failed to create tensor %s: %w", info.Name, err)
		}
		buffers = append(buffers, &onnxBuffer{name: info.Name, tensor: tensor})
	}
	return buffers, nil
}

func closeBuffers(buffers []Buffer) {
	for _, b := range buffers {
		_ = b.Close()
	}
}

func ortValues(buffers []Buffer) ([]ort.Value, error) {
	values := make([]ort.Value, len(buffers))
	for i, b := range buffers {
		ob, ok := b.(*onnxBuffer)
		if !ok || ob.tensor == nil {
			return nil, fmt.Errorf("buffer %d is not an ONNX tensor", i)
		}
		values[i] = ob.tensor
	}
	return values, nil
}

type onnxModel struct {
	name        string
	session     *ort.DynamicAdvancedSession
	opts        *ort.SessionOptions
	inputs      []ort.InputOutputInfo
	outputs     []ort.InputOutputInfo
	accelerated bool
}

func asONNXModel(m Model) (*onnxModel, error) {
	om, ok := m.(*onnxModel)
	if !ok || om == nil {
		return nil, fmt.Errorf("model handle is not an ONNX model")
	}
	return om, nil
}

func (m *onnxModel) Name() string { return m.name }

func (m *onnxModel) Close() error {
	var err error
	if m.session != nil {
		err = m.session.Destroy()
		m.session = nil
	}
	if m.opts != nil {
		m.opts.Destroy()
		m.opts = nil
	}
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

type onnxBuffer struct {
	name   string
	tensor *ort.Tensor[float32]
}

func (b *onnxBuffer) Name() string { return b.name }

func (b *onnxBuffer) Size() (int, error) {
	if b.tensor == nil {
		return 0, fmt.Errorf("buffer %s is closed", b.name)
	}
	return len(b.tensor.GetData()) * 4, nil
}

func (b *onnxBuffer) Write(values []float32) error {
	if b.tensor == nil {
		return fmt.Errorf("buffer %s is closed", b.name)
	}
	data := b.tensor.GetData()
	if len(values) > len(data) {
		return fmt.Errorf("write to %s has wrong size: got %d floats, capacity %d", b.name, len(values), len(data))
	}
	copy(data, values)
	return nil
}

func (b *onnxBuffer) Read(dst []float32) error {
	if b.tensor == nil {
		return fmt.Errorf("buffer %s is closed", b.name)
	}
	data := b.tensor.GetData()
	if len(dst) > len(data) {
		return fmt.Errorf("read from %s has wrong size: got %d floats, capacity %d", b.name, len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

func (b *onnxBuffer) Close() error {
	if b.tensor == nil {
		return nil
	}
	err := b.tensor.Destroy()
	b.tensor = nil
	return err
}

// Ensure ONNXEngine implements Engine at compile time
var _ Engine = (*ONNXEngine)(nil)
