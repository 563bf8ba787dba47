package synth

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/narrator/internal/inference"
	"github.com/ent0n29/narrator/internal/phoneme"
)

// VoiceLookup resolves a voice name to its style vector.
type VoiceLookup interface {
	Lookup(name string) ([]float32, bool)
}

// Request is one chunk of text to speak.
type Request struct {
	Text   string
	Voice  string
	Speed  float64
	Locale string
}

// Synthesizer turns a text chunk into raw float samples: phonemize,
// normalize, encode with boundaries, then run the model with the voice style.
type Synthesizer struct {
	phonemizer phoneme.Phonemizer
	vocab      *phoneme.Vocabulary
	voices     VoiceLookup
	engine     inference.Engine
	logger     *slog.Logger
	tracer     trace.Tracer
}

func New(p phoneme.Phonemizer, vocab *phoneme.Vocabulary, voices VoiceLookup, engine inference.Engine, logger *slog.Logger) (*Synthesizer, error) {
	if p == nil {
		return nil, errors.New("phonemizer is required")
	}
	if voices == nil {
		return nil, errors.New("voice table is required")
	}
	if engine == nil {
		return nil, errors.New("inference engine is required")
	}
	if vocab == nil {
		vocab = phoneme.DefaultVocabulary()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		phonemizer: p,
		vocab:      vocab,
		voices:     voices,
		engine:     engine,
		logger:     logger.With("component", "synth"),
		tracer:     otel.Tracer("github.com/ent0n29/narrator/internal/synth"),
	}, nil
}

// Tokens runs the text half of synthesis and returns the boundary-wrapped ids.
func (s *Synthesizer) Tokens(ctx context.Context, text, locale string) ([]int64, error) {
	parts, err := s.phonemizer.Phonemize(ctx, text, locale)
	if err != nil {
		return nil, &PhonemizationError{Err: err}
	}
	ids, dropped := s.vocab.EncodeChunk(phoneme.Normalize(parts))
	if dropped > 0 {
		s.logger.Debug("dropped symbols outside vocabulary",
			slog.Int("dropped", dropped),
			slog.Int("tokens", len(ids)),
		)
	}
	return ids, nil
}

// Synthesize produces the samples for one chunk. Failures are typed as
// PhonemizationError, UnknownVoiceError or InferenceError.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) ([]float32, error) {
	ctx, span := s.tracer.Start(ctx, "synth.chunk", trace.WithAttributes(
		attribute.String("voice", req.Voice),
		attribute.Float64("speed", req.Speed),
		attribute.Int("text_len", len(req.Text)),
	))
	defer span.End()

	samples, err := s.synthesize(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorStage(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("samples", len(samples)))
	return samples, nil
}

func (s *Synthesizer) synthesize(ctx context.Context, req Request) ([]float32, error) {
	ids, err := s.Tokens(ctx, req.Text, req.Locale)
	if err != nil {
		return nil, err
	}

	style, ok := s.voices.Lookup(req.Voice)
	if !ok {
		return nil, &UnknownVoiceError{Voice: req.Voice}
	}

	samples, err := s.engine.Run(ctx, inference.Inputs{
		IDs:   ids,
		Style: style,
		Speed: float32(req.Speed),
	})
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	return samples, nil
}
