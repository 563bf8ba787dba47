package inference

import (
	"context"
	"math"
	"sync"
)

// MockEngine produces a deterministic tone whose length grows with the token
// count and shrinks with speed. It stands in for the model in tests and in
// deployments without model files.
type MockEngine struct {
	SampleRate      int
	SamplesPerToken int
	Amplitude       float64

	mu    sync.Mutex
	calls int
	// Err, when set, is returned by every Run.
	Err error
}

func NewMockEngine(sampleRate int) *MockEngine {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &MockEngine{
		SampleRate:      sampleRate,
		SamplesPerToken: sampleRate / 50,
		Amplitude:       0.3,
	}
}

func (m *MockEngine) Run(ctx context.Context, in Inputs) ([]float32, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.calls++
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	perToken := m.SamplesPerToken
	if perToken <= 0 {
		perToken = 1
	}
	n := int(math.Round(float64(len(in.IDs)*perToken) / float64(in.Speed)))
	if n < 1 {
		n = 1
	}

	// Pitch follows the first style coefficient so voices sound distinct.
	freq := 180 + 60*math.Tanh(float64(in.Style[0]))
	rate := float64(m.SampleRate)
	if rate <= 0 {
		rate = 24000
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(m.Amplitude * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out, nil
}

// Calls reports how many Run invocations reached the generator.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEngine) Close() error { return nil }
