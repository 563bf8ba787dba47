package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the narration service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	LogLevel                 string
	LogFormat                string

	// InferenceMode is auto, onnx or mock. auto uses onnx when the model
	// file exists.
	InferenceMode      string
	ModelPath          string
	ModelOutputName    string
	ONNXRuntimeLibPath string
	VoicesPath         string
	DefaultVoice       string
	DefaultSpeed       float64

	// PhonemizerMode is auto, exec or mock. auto uses exec when the
	// command's binary is on PATH.
	PhonemizerMode    string
	PhonemizerCommand string

	SampleRate        int
	CrossfadeDuration time.Duration

	DatabaseURL        string
	ArtifactSQLitePath string
	NATSURL            string
	OTLPEndpoint       string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "narrator"),
		AllowAnyOrigin:     false,
		LogLevel:           envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("APP_LOG_FORMAT", "text"),
		InferenceMode:      strings.ToLower(envOrDefault("INFERENCE_MODE", "auto")),
		ModelPath:          envOrDefault("MODEL_PATH", "model/kitten_tts_nano_v0_1.onnx"),
		ModelOutputName:    stringsTrimSpace("MODEL_OUTPUT_NAME"),
		ONNXRuntimeLibPath: stringsTrimSpace("ONNXRUNTIME_LIB_PATH"),
		VoicesPath:         envOrDefault("VOICES_PATH", "model/voices.json"),
		DefaultVoice:       envOrDefault("DEFAULT_VOICE", "expr-voice-2-f"),
		DefaultSpeed:       1.0,
		PhonemizerMode:     strings.ToLower(envOrDefault("PHONEMIZER_MODE", "auto")),
		// {locale} is replaced per call.
		PhonemizerCommand:        envOrDefault("PHONEMIZER_COMMAND", "espeak-ng -q --ipa -v {locale} --stdin"),
		SampleRate:               24000,
		CrossfadeDuration:        50 * time.Millisecond,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ArtifactSQLitePath:       stringsTrimSpace("ARTIFACT_SQLITE_PATH"),
		NATSURL:                  stringsTrimSpace("NATS_URL"),
		OTLPEndpoint:             stringsTrimSpace("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultSpeed, err = floatFromEnv("DEFAULT_SPEED", cfg.DefaultSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.CrossfadeDuration, err = durationFromEnv("CROSSFADE_DURATION", cfg.CrossfadeDuration)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if !(cfg.DefaultSpeed > 0) {
		return Config{}, fmt.Errorf("DEFAULT_SPEED must be positive")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("SAMPLE_RATE must be positive")
	}
	if cfg.CrossfadeDuration < 0 {
		return Config{}, fmt.Errorf("CROSSFADE_DURATION must be >= 0")
	}
	if err := oneOf("INFERENCE_MODE", cfg.InferenceMode, "auto", "onnx", "mock"); err != nil {
		return Config{}, err
	}
	if err := oneOf("PHONEMIZER_MODE", cfg.PhonemizerMode, "auto", "exec", "mock"); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		return Config{}, fmt.Errorf("DEFAULT_VOICE must not be blank")
	}

	return cfg, nil
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), v)
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
