package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Metadata describes an exported model next to its .onnx file.
type Metadata struct {
	InputName     string        `json:"input_name"`
	OutputName    string        `json:"output_name"`
	InputShape    []int64       `json:"input_shape"`
	OutputShape   []int64       `json:"output_shape"`
	Classes       []string      `json:"classes"`
	ImageSize     int           `json:"image_size"`
	Layout        Layout        `json:"layout"`
	Normalization Normalization `json:"normalization"`
}

// LoadMetadata reads a metadata file. Layout, normalization and image size
// are left zero when the file omits them; Preprocessor fills them from the
// caller's defaults.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if md.InputName == "" {
		md.InputName = "input"
	}
	if md.OutputName == "" {
		md.OutputName = "output"
	}
	switch md.Layout {
	case "", LayoutNHWC, LayoutNCHW:
	default:
		return Metadata{}, fmt.Errorf("unknown layout %q", md.Layout)
	}
	switch md.Normalization {
	case "", NormalizeUnit, NormalizeSymmetric, NormalizeImageNet:
	default:
		return Metadata{}, fmt.Errorf("unknown normalization %q", md.Normalization)
	}
	if len(md.InputShape) == 0 || len(md.OutputShape) == 0 {
		return Metadata{}, errors.New("metadata must declare input_shape and output_shape")
	}
	return md, nil
}

// Preprocessor returns base with every field the metadata declares applied.
func (md Metadata) Preprocessor(base Preprocessor) Preprocessor {
	p := base
	if md.ImageSize > 0 {
		p.Size = md.ImageSize
	}
	if md.Layout != "" {
		p.Layout = md.Layout
	}
	if md.Normalization != "" {
		p.Normalization = md.Normalization
	}
	return p
}

// CheckInput rejects a tensor whose layout or shape differs from what the
// model was exported with. Non-positive dimensions in InputShape are dynamic.
func (md Metadata) CheckInput(in Tensor) error {
	if md.Layout != "" && in.Layout != "" && in.Layout != md.Layout {
		return fmt.Errorf("model expects %s input, got %s", md.Layout, in.Layout)
	}
	if len(md.InputShape) == 0 {
		return nil
	}
	if len(in.Shape) != len(md.InputShape) {
		return fmt.Errorf("model expects input shape %v, got %v", md.InputShape, in.Shape)
	}
	for i, d := range md.InputShape {
		if d > 0 && in.Shape[i] != d {
			return fmt.Errorf("model expects input shape %v, got %v", md.InputShape, in.Shape)
		}
	}
	return nil
}

var runtimeMu sync.Mutex

// InitRuntime loads the onnxruntime shared library once per process.
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// DestroyRuntime releases the onnxruntime environment.
func DestroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXModel runs an exported classifier. The session is bound to a single
// pair of input/output tensors, so Predict holds a lock for the whole run.
type ONNXModel struct {
	Metadata Metadata

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXModel opens the model. InitRuntime must have been called.
func NewONNXModel(modelPath string, md Metadata) (*ONNXModel, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(md.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(md.OutputShape...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{md.InputName}, []string{md.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{Metadata: md, session: session, input: input, output: output}, nil
}

// Predict copies the input into the bound tensor, runs the session and returns
// a copy of the scores.
func (m *ONNXModel) Predict(in Tensor) ([]float32, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := m.Metadata.CheckInput(in); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, errors.New("model is closed")
	}
	dst := m.input.GetData()
	if len(dst) != len(in.Data) {
		return nil, fmt.Errorf("model expects %d input values, got %d", len(dst), len(in.Data))
	}
	copy(dst, in.Data)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := m.output.GetData()
	out := make([]float32, len(scores))
	copy(out, scores)
	return out, nil
}

// Close releases the session and its tensors.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	if m.input != nil {
		errs = append(errs, m.input.Destroy())
		m.input = nil
	}
	if m.output != nil {
		errs = append(errs, m.output.Destroy())
		m.output = nil
	}
	return errors.Join(errs...)
}
