package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/narrator/internal/config"
	"github.com/ent0n29/narrator/internal/pipeline"
)

func testConfig(t *testing.T, name string) config.Config {
	t.Helper()
	return config.Config{
		SessionInactivityTimeout: time.Minute,
		MetricsNamespace:         "test_app_" + name + "_" + time.Now().Format("150405"),
		InferenceMode:            "mock",
		PhonemizerMode:           "mock",
		PhonemizerCommand:        "espeak-ng -q --ipa -v {locale} --stdin",
		ModelPath:                filepath.Join(t.TempDir(), "missing.onnx"),
		VoicesPath:               filepath.Join(t.TempDir(), "voices.json"),
		DefaultVoice:             "expr-voice-2-f",
		DefaultSpeed:             1,
		SampleRate:               24000,
		CrossfadeDuration:        50 * time.Millisecond,
	}
}

func TestBuildAndLoadModelMock(t *testing.T) {
	cfg := testConfig(t, "load")
	if err := os.WriteFile(cfg.VoicesPath, []byte(`{"expr-voice-2-f": [[0.1, 0.2]], "expr-voice-3-m": [0.3, 0.4]}`), 0o644); err != nil {
		t.Fatalf("write voices: %v", err)
	}

	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()
	if res.Publisher != nil {
		t.Fatal("publisher connected without NATS url")
	}
	if res.Driver.Ready() {
		t.Fatal("driver ready before LoadModel")
	}

	info, err := res.LoadModel(context.Background())
	if err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if info.Inference != "mock" || info.Phonemizer != "mock" || info.Voices != 2 {
		t.Fatalf("info = %+v", info)
	}
	if !res.Driver.Ready() {
		t.Fatal("driver not ready after LoadModel")
	}

	out, err := res.Driver.RunSync(context.Background(), pipeline.Job{Text: "One. Two.", Voice: "expr-voice-3-m", Speed: 1})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if out.ChunkCount != 2 || len(out.WAV) <= 44 {
		t.Fatalf("result = chunks %d, wav %d bytes", out.ChunkCount, len(out.WAV))
	}
}

func TestLoadModelMockWithoutVoiceFile(t *testing.T) {
	cfg := testConfig(t, "fallback")
	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	info, err := res.LoadModel(context.Background())
	if err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if info.Voices != 1 {
		t.Fatalf("voices = %d, want 1", info.Voices)
	}
}

func TestResolveModelErrors(t *testing.T) {
	cfg := testConfig(t, "errors")

	bad := cfg
	bad.InferenceMode = "gpu"
	if _, err := resolveModel(bad); err == nil || !strings.Contains(err.Error(), "INFERENCE_MODE") {
		t.Fatalf("resolveModel(gpu) error = %v", err)
	}

	bad = cfg
	bad.PhonemizerMode = "festival"
	if _, err := resolveModel(bad); err == nil || !strings.Contains(err.Error(), "PHONEMIZER_MODE") {
		t.Fatalf("resolveModel(festival) error = %v", err)
	}

	bad = cfg
	bad.PhonemizerMode = "exec"
	bad.PhonemizerCommand = "definitely-not-a-phonemizer-binary --stdin"
	if _, err := resolveModel(bad); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("resolveModel(exec missing) error = %v", err)
	}

	bad = cfg
	bad.InferenceMode = "onnx"
	if _, err := resolveModel(bad); err == nil {
		t.Fatal("resolveModel(onnx, missing model) succeeded")
	}

	bad = cfg
	bad.DefaultVoice = "nobody"
	if err := os.WriteFile(bad.VoicesPath, []byte(`{"someone": [0.1]}`), 0o644); err != nil {
		t.Fatalf("write voices: %v", err)
	}
	if _, err := resolveModel(bad); err == nil || !strings.Contains(err.Error(), "default voice") {
		t.Fatalf("resolveModel(missing default voice) error = %v", err)
	}
}

func TestResolveEngineAutoWithoutModelIsMock(t *testing.T) {
	cfg := testConfig(t, "auto")
	cfg.InferenceMode = "auto"
	engine, mode, err := resolveEngine(cfg)
	if err != nil {
		t.Fatalf("resolveEngine() error = %v", err)
	}
	defer engine.Close()
	if mode != "mock" {
		t.Fatalf("mode = %q, want mock", mode)
	}
}
