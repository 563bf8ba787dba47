package inference

import (
	"context"
	"errors"
)

var (
	ErrEmptyInput    = errors.New("inference input has no token ids")
	ErrEmptyStyle    = errors.New("inference input has no style vector")
	ErrInvalidSpeed  = errors.New("inference speed must be positive")
	ErrEngineClosed  = errors.New("inference engine closed")
	ErrOutputMissing = errors.New("inference produced no waveform")
)

// Inputs is one model invocation: token ids shaped [1,N], the voice style
// vector shaped [1,S] and a scalar speed shaped [1].
type Inputs struct {
	IDs   []int64
	Style []float32
	Speed float32
}

func (in Inputs) validate() error {
	if len(in.IDs) == 0 {
		return ErrEmptyInput
	}
	if len(in.Style) == 0 {
		return ErrEmptyStyle
	}
	if !(in.Speed > 0) {
		return ErrInvalidSpeed
	}
	return nil
}

// Engine maps token ids plus conditioning to mono float32 samples.
type Engine interface {
	Run(ctx context.Context, in Inputs) ([]float32, error)
	Close() error
}
