package inference

// Accelerator selects where a compiled model is allowed to execute.
type Accelerator int

const (
	// AcceleratorCPU compiles for host execution.
	AcceleratorCPU Accelerator = iota
	// AcceleratorGPU compiles for GPU-only execution with no CPU fallback
	// subgraphs.
	AcceleratorGPU
)

func (a Accelerator) String() string {
	switch a {
	case AcceleratorGPU:
		return "GPU"
	case AcceleratorCPU:
		return "CPU"
	default:
		return "unknown"
	}
}

// EnvOptions configures the engine environment created by Open.
type EnvOptions struct {
	// CacheDir is a writable directory for staged model files.
	CacheDir string
	// LibraryDir is where accelerator runtime libraries are found.
	LibraryDir string
}

// Engine is the capability set the OCR session consumes from a tensor
// inference runtime. Every call blocks the caller. Implementations are not
// required to be safe for concurrent use.
type Engine interface {
	// Open creates the runtime environment. It must be called before Compile.
	Open(opts EnvOptions) error

	// Compile builds a model from its serialized bytes for the requested
	// accelerator. name identifies the model in logs and staged files.
	Compile(name string, model []byte, accel Accelerator) (Model, error)

	// IsFullyAccelerated reports whether every operation of m runs on the
	// requested accelerator.
	IsFullyAccelerated(m Model) (bool, error)

	// CreateInputBuffers allocates one buffer per model input, sized from the
	// compiled model signature.
	CreateInputBuffers(m Model) ([]Buffer, error)

	// CreateOutputBuffers allocates one buffer per model output.
	CreateOutputBuffers(m Model) ([]Buffer, error)

	// Run executes m reading from inputs and writing into outputs.
	Run(m Model, inputs, outputs []Buffer) error

	// Close destroys the runtime environment.
	Close() error
}

// Model is an opaque compiled model handle.
type Model interface {
	Name() string
	Close() error
}

// Buffer is a fixed-size float32 tensor bound to one model input or output.
type Buffer interface {
	Name() string
	// Size returns the buffer size in bytes.
	Size() (int, error)
	// Write copies values into the buffer. len(values) must not exceed the
	// buffer capacity.
	Write(values []float32) error
	// Read copies the buffer into dst. len(dst) must not exceed the buffer
	// capacity.
	Read(dst []float32) error
	Close() error
}

// Float32Count converts a buffer byte size into a float32 element count.
func Float32Count(b Buffer) (int, error) {
	size, err := b.Size()
	if err != nil {
		return 0, err
	}
	return size / 4, nil
}
