package app

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ent0n29/narrator/internal/config"
	"github.com/ent0n29/narrator/internal/inference"
	"github.com/ent0n29/narrator/internal/phoneme"
	"github.com/ent0n29/narrator/internal/voices"
)

// ModelInfo describes what the background model load resolved to.
type ModelInfo struct {
	Inference  string
	Phonemizer string
	Detail     string
	Voices     int
}

type modelSetup struct {
	phonemizer phoneme.Phonemizer
	engine     inference.Engine
	voices     *voices.Store
	info       ModelInfo
}

func resolvePhonemizer(cfg config.Config) (phoneme.Phonemizer, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.PhonemizerMode))
	if mode == "" {
		mode = "auto"
	}

	tryExec := func(fatal bool) (phoneme.Phonemizer, bool, error) {
		p, err := phoneme.NewExecPhonemizer(cfg.PhonemizerCommand)
		if err != nil {
			return nil, false, err
		}
		if _, err := exec.LookPath(p.Binary()); err != nil {
			if fatal {
				return nil, false, fmt.Errorf("phonemizer %q not found: %w", p.Binary(), err)
			}
			return nil, false, nil
		}
		return p, true, nil
	}

	switch mode {
	case "exec":
		p, _, err := tryExec(true)
		if err != nil {
			return nil, "", err
		}
		return p, "exec", nil
	case "mock":
		return phoneme.MockPhonemizer{}, "mock", nil
	case "auto":
		p, ok, err := tryExec(false)
		if err != nil {
			return nil, "", err
		}
		if ok {
			return p, "exec", nil
		}
		return phoneme.MockPhonemizer{}, "mock", nil
	default:
		return nil, "", fmt.Errorf("invalid PHONEMIZER_MODE: %q (expected auto|exec|mock)", cfg.PhonemizerMode)
	}
}

func resolveEngine(cfg config.Config) (inference.Engine, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.InferenceMode))
	if mode == "" {
		mode = "auto"
	}

	tryONNX := func() (inference.Engine, error) {
		e, err := inference.NewONNXEngine(inference.ONNXConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.ONNXRuntimeLibPath,
			OutputName:  cfg.ModelOutputName,
		})
		if err != nil {
			return nil, fmt.Errorf("onnx engine init failed: %w", err)
		}
		return e, nil
	}

	switch mode {
	case "onnx":
		e, err := tryONNX()
		if err != nil {
			return nil, "", err
		}
		return e, "onnx", nil
	case "mock":
		return inference.NewMockEngine(cfg.SampleRate), "mock", nil
	case "auto":
		if _, err := os.Stat(cfg.ModelPath); err == nil {
			e, err := tryONNX()
			if err != nil {
				return nil, "", err
			}
			return e, "onnx", nil
		}
		return inference.NewMockEngine(cfg.SampleRate), "mock", nil
	default:
		return nil, "", fmt.Errorf("invalid INFERENCE_MODE: %q (expected auto|onnx|mock)", cfg.InferenceMode)
	}
}

// loadVoices reads the voice table. A mock engine without a voice file gets
// a one-voice table for the default voice so the service still comes up.
func loadVoices(cfg config.Config, mockEngine bool) (*voices.Store, error) {
	store, err := voices.Load(cfg.VoicesPath)
	if err == nil {
		return store, nil
	}
	if !mockEngine || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load voices: %w", err)
	}
	return voices.New(map[string][]float32{
		cfg.DefaultVoice: {0.1, 0.2, 0.3, 0.4},
	})
}

func resolveModel(cfg config.Config) (modelSetup, error) {
	p, phonMode, err := resolvePhonemizer(cfg)
	if err != nil {
		return modelSetup{}, err
	}
	engine, engineMode, err := resolveEngine(cfg)
	if err != nil {
		return modelSetup{}, err
	}
	store, err := loadVoices(cfg, engineMode == "mock")
	if err != nil {
		_ = engine.Close()
		return modelSetup{}, err
	}
	if _, ok := store.Lookup(cfg.DefaultVoice); !ok {
		_ = engine.Close()
		return modelSetup{}, fmt.Errorf("default voice %q is not in %s", cfg.DefaultVoice, cfg.VoicesPath)
	}

	return modelSetup{
		phonemizer: p,
		engine:     engine,
		voices:     store,
		info: ModelInfo{
			Inference:  engineMode,
			Phonemizer: phonMode,
			Detail:     fmt.Sprintf("%s inference + %s phonemizer, %d voices", engineMode, phonMode, store.Len()),
			Voices:     store.Len(),
		},
	}, nil
}
