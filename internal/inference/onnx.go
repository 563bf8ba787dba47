package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	inputIDsName = "input_ids"
	styleName    = "style"
	speedName    = "speed"
)

type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	// OutputName selects the waveform output. Empty picks the model's first output.
	OutputName string
}

// ONNXEngine runs a single-model ONNX TTS graph. Calls are serialized; the
// runtime session is not reentrant.
type ONNXEngine struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	output  string
	closed  bool
}

var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

func NewONNXEngine(cfg ONNXConfig) (*ONNXEngine, error) {
	modelPath := strings.TrimSpace(cfg.ModelPath)
	if modelPath == "" {
		return nil, errors.New("model path is required")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelPath, err)
	}
	if err := acquireEnvironment(strings.TrimSpace(cfg.LibraryPath)); err != nil {
		return nil, err
	}

	output := strings.TrimSpace(cfg.OutputName)
	if output == "" {
		_, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			_ = releaseEnvironment()
			return nil, fmt.Errorf("inspect model outputs: %w", err)
		}
		if len(outputs) == 0 {
			_ = releaseEnvironment()
			return nil, errors.New("model declares no outputs")
		}
		output = outputs[0].Name
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputIDsName, styleName, speedName},
		[]string{output}, nil)
	if err != nil {
		_ = releaseEnvironment()
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &ONNXEngine{session: session, output: output}, nil
}

// OutputName reports the graph output the engine reads samples from.
func (e *ONNXEngine) OutputName() string {
	return e.output
}

func (e *ONNXEngine) Run(ctx context.Context, in Inputs) ([]float32, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	ids, err := ort.NewTensor(ort.NewShape(1, int64(len(in.IDs))), append([]int64(nil), in.IDs...))
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer ids.Destroy()

	// The style slice is shared across requests; the tensor gets its own copy.
	style, err := ort.NewTensor(ort.NewShape(1, int64(len(in.Style))), append([]float32(nil), in.Style...))
	if err != nil {
		return nil, fmt.Errorf("style tensor: %w", err)
	}
	defer style.Destroy()

	speed, err := ort.NewTensor(ort.NewShape(1), []float32{in.Speed})
	if err != nil {
		return nil, fmt.Errorf("speed tensor: %w", err)
	}
	defer speed.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{ids, style, speed}, outputs); err != nil {
		return nil, fmt.Errorf("run model: %w", err)
	}
	if outputs[0] == nil {
		return nil, ErrOutputMissing
	}
	defer outputs[0].Destroy()

	wave, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %q is %T, want float32 tensor", e.output, outputs[0])
	}
	// An empty waveform is a valid zero-length chunk.
	data := wave.GetData()
	return append(make([]float32, 0, len(data)), data...), nil
}

func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := releaseEnvironment(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
