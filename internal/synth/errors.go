package synth

import (
	"errors"
	"fmt"

	"github.com/ent0n29/narrator/internal/voices"
)

// PhonemizationError reports that the G2P step failed for a chunk.
type PhonemizationError struct {
	Err error
}

func (e *PhonemizationError) Error() string {
	return fmt.Sprintf("phonemization failed: %v", e.Err)
}

func (e *PhonemizationError) Unwrap() error { return e.Err }

// UnknownVoiceError reports a voice name missing from the voice table.
type UnknownVoiceError struct {
	Voice string
}

func (e *UnknownVoiceError) Error() string {
	return fmt.Sprintf("Voice data for '%s' could not be found. Check voices.json.", e.Voice)
}

func (e *UnknownVoiceError) Unwrap() error { return voices.ErrNotFound }

// InferenceError reports a failed model run.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ErrorStage classifies a synthesis error for metrics labels.
func ErrorStage(err error) string {
	var phon *PhonemizationError
	var voice *UnknownVoiceError
	var inf *InferenceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &voice):
		return "voice"
	case errors.As(err, &phon):
		return "phonemize"
	case errors.As(err, &inf):
		return "inference"
	default:
		return "other"
	}
}
