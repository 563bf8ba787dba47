package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/narrator/internal/audio"
	"github.com/ent0n29/narrator/internal/synth"
)

// scriptedSynth returns canned buffers in call order and records requests.
type scriptedSynth struct {
	mu      sync.Mutex
	outputs [][]float32
	errAt   int
	err     error
	calls   []synth.Request
}

func (s *scriptedSynth) Synthesize(_ context.Context, req synth.Request) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.calls)
	s.calls = append(s.calls, req)
	if s.err != nil && idx == s.errAt {
		return nil, s.err
	}
	if idx < len(s.outputs) {
		return s.outputs[idx], nil
	}
	return []float32{0}, nil
}

func (s *scriptedSynth) requests() []synth.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]synth.Request(nil), s.calls...)
}

func decodePCM16(t *testing.T, wav []byte) []int16 {
	t.Helper()
	if len(wav) < audio.WAVHeaderSize {
		t.Fatalf("wav too short: %d bytes", len(wav))
	}
	data := wav[audio.WAVHeaderSize:]
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func TestRunnerStitchesChunksInOrder(t *testing.T) {
	s := &scriptedSynth{outputs: [][]float32{{1, 1, 1, 1, 1}, {0, 0, 0, 0, 0}}}
	r := NewRunner(s, RunnerConfig{SampleRate: 24000})
	r.fade = 2

	var events []Event
	res, err := r.Run(context.Background(), Job{Text: "One. Two.", Voice: "v", Speed: 1}, func(ev Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != ResultCompleted || res.ChunkCount != 2 || res.SampleCount != 8 {
		t.Fatalf("Result = %+v", res)
	}

	got := decodePCM16(t, res.WAV)
	want := []int16{32767, 32767, 32767, 32767, 16384, 0, 0, 0}
	if !slices.Equal(got, want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}

	reqs := s.requests()
	if len(reqs) != 2 || reqs[0].Text != "One." || reqs[1].Text != "Two." {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].Voice != "v" || reqs[0].Speed != 1 {
		t.Fatalf("request params = %+v", reqs[0])
	}

	var statuses []string
	for _, ev := range events {
		statuses = append(statuses, ev.Status)
	}
	if statuses[0] != StatusStarting || statuses[len(statuses)-1] != StatusCombining {
		t.Fatalf("statuses = %q", statuses)
	}
	progress := events[1]
	if progress.Type != EventRunProgress || progress.Completed != 1 || progress.Total != 2 {
		t.Fatalf("first progress event = %+v", progress)
	}
}

func TestRunnerProgressETA(t *testing.T) {
	s := &scriptedSynth{}
	r := NewRunner(s, RunnerConfig{})

	// Each clock read advances one second, so every chunk takes one second.
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	var progress []Event
	_, err := r.Run(context.Background(), Job{Text: "A. B. C.", Voice: "v", Speed: 1}, func(ev Event) {
		if ev.Type == EventRunProgress {
			progress = append(progress, ev)
		}
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(progress) != 3 {
		t.Fatalf("progress events = %d, want 3", len(progress))
	}
	wantETA := []string{"0:02", "0:01", "0:00"}
	for i, ev := range progress {
		if ev.ETA != wantETA[i] {
			t.Fatalf("progress[%d].ETA = %q, want %q", i, ev.ETA, wantETA[i])
		}
	}
	if progress[0].Status != "Processing sentence 1 of 3... (ETA: 0:02)" {
		t.Fatalf("status = %q", progress[0].Status)
	}
}

func TestRunnerAcceptsEmptyChunkAudio(t *testing.T) {
	s := &scriptedSynth{outputs: [][]float32{{1, 1, 1}, {}, {0, 0, 0}}}
	r := NewRunner(s, RunnerConfig{SampleRate: 24000})
	r.fade = 2

	res, err := r.Run(context.Background(), Job{Text: "One. Two. Three.", Voice: "v", Speed: 1}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != ResultCompleted || res.ChunkCount != 3 || res.SampleCount != 4 {
		t.Fatalf("Result = %+v", res)
	}
	got := decodePCM16(t, res.WAV)
	want := []int16{32767, 32767, 16384, 0}
	if !slices.Equal(got, want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
}

func TestRunnerEmptySegmentation(t *testing.T) {
	s := &scriptedSynth{}
	r := NewRunner(s, RunnerConfig{})
	res, err := r.Run(context.Background(), Job{Text: "?!...", Voice: "v", Speed: 1}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != ResultNothing || res.WAV != nil {
		t.Fatalf("Result = %+v, want nothing", res)
	}
	if len(s.requests()) != 0 {
		t.Fatalf("synthesizer called for empty segmentation")
	}
}

func TestRunnerStopsAtFirstError(t *testing.T) {
	boom := &synth.InferenceError{Err: errors.New("model exploded")}
	s := &scriptedSynth{errAt: 1, err: boom}
	r := NewRunner(s, RunnerConfig{})

	res, err := r.Run(context.Background(), Job{Text: "A. B. C.", Voice: "v", Speed: 1}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if res.WAV != nil {
		t.Fatalf("partial artifact produced")
	}
	if n := len(s.requests()); n != 2 {
		t.Fatalf("synthesizer calls = %d, want 2", n)
	}
}

func TestRunnerYieldsBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &scriptedSynth{}
	r := NewRunner(s, RunnerConfig{})
	yields := 0
	r.yield = func() {
		yields++
		if yields == 2 {
			cancel()
		}
	}

	_, err := r.Run(ctx, Job{Text: "A. B. C. D.", Voice: "v", Speed: 1}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if n := len(s.requests()); n != 2 {
		t.Fatalf("synthesizer calls = %d, want 2", n)
	}
}

func TestRunnerDefaultFade(t *testing.T) {
	r := NewRunner(&scriptedSynth{}, RunnerConfig{Crossfade: audio.DefaultCrossfade})
	if r.FadeSamples() != 1200 {
		t.Fatalf("FadeSamples() = %d, want 1200", r.FadeSamples())
	}
}
