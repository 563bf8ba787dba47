package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/narrator/internal/audio"
	"github.com/ent0n29/narrator/internal/observability"
	"github.com/ent0n29/narrator/internal/segment"
	"github.com/ent0n29/narrator/internal/synth"
)

// ChunkSynthesizer produces samples for one trimmed text chunk.
type ChunkSynthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) ([]float32, error)
}

// Job is the input of one run.
type Job struct {
	Text  string
	Voice string
	Speed float64
}

type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	// ResultNothing means segmentation found no chunks; there is no audio.
	ResultNothing ResultStatus = "nothing"
)

// Result is the outcome of a successful run.
type Result struct {
	Status      ResultStatus
	WAV         []byte
	SampleRate  int
	SampleCount int
	ChunkCount  int
	ChunkTimes  []time.Duration
	Elapsed     time.Duration
}

// Duration is the playback length of the produced audio.
func (r Result) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(r.SampleCount) * time.Second / time.Duration(r.SampleRate)
}

type RunnerConfig struct {
	SampleRate int
	Crossfade  time.Duration
	Metrics    *observability.Metrics
	Latency    *observability.LatencyWindow
	Logger     *slog.Logger
}

// Runner executes the sequential chunk loop: segment, synthesize each chunk
// in order, stitch with crossfades and encode to WAV.
type Runner struct {
	synth      ChunkSynthesizer
	sampleRate int
	fade       int
	metrics    *observability.Metrics
	latency    *observability.LatencyWindow
	logger     *slog.Logger
	tracer     trace.Tracer

	now   func() time.Time
	yield func()
}

func NewRunner(s ChunkSynthesizer, cfg RunnerConfig) *Runner {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Crossfade < 0 {
		cfg.Crossfade = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		synth:      s,
		sampleRate: cfg.SampleRate,
		fade:       audio.FadeSamples(cfg.SampleRate, cfg.Crossfade),
		metrics:    cfg.Metrics,
		latency:    cfg.Latency,
		logger:     cfg.Logger.With("component", "pipeline"),
		tracer:     otel.Tracer("github.com/ent0n29/narrator/internal/pipeline"),
		now:        time.Now,
		yield:      runtime.Gosched,
	}
}

// FadeSamples reports the crossfade window in samples.
func (r *Runner) FadeSamples() int { return r.fade }

// Run processes job to completion. Chunk errors are returned unchanged and
// abort the run; no partial audio is produced.
func (r *Runner) Run(ctx context.Context, job Job, observe Observer) (Result, error) {
	if observe == nil {
		observe = func(Event) {}
	}
	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("voice", job.Voice),
		attribute.Float64("speed", job.Speed),
	))
	defer span.End()

	started := r.now()
	observe(Event{Type: EventRunStatus, Status: StatusStarting, At: started.UTC()})

	chunks := segment.Split(job.Text)
	if len(chunks) == 0 {
		span.SetAttributes(attribute.Int("chunks", 0))
		return Result{Status: ResultNothing, SampleRate: r.sampleRate}, nil
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	buffers := make([][]float32, 0, len(chunks))
	times := make([]time.Duration, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return Result{}, r.fail(span, err)
		}

		t0 := r.now()
		samples, err := r.synth.Synthesize(ctx, synth.Request{
			Text:  strings.TrimSpace(chunk),
			Voice: job.Voice,
			Speed: job.Speed,
		})
		if err != nil {
			if r.metrics != nil {
				r.metrics.SynthesisErrors.WithLabelValues(synth.ErrorStage(err)).Inc()
			}
			r.logger.Warn("chunk synthesis failed",
				slog.Int("chunk", i+1),
				slog.Int("total", len(chunks)),
				slog.String("error", err.Error()),
			)
			return Result{}, r.fail(span, err)
		}
		elapsed := r.now().Sub(t0)
		buffers = append(buffers, samples)
		times = append(times, elapsed)
		if r.metrics != nil {
			r.metrics.ObserveChunkLatency(elapsed)
		}
		r.latency.Observe(observability.StageChunk, elapsed)

		completed := i + 1
		eta := FormatETA(EstimateRemaining(times, len(chunks)-completed))
		observe(Event{
			Type:      EventRunProgress,
			Completed: completed,
			Total:     len(chunks),
			ETA:       eta,
			Status:    progressStatus(completed, len(chunks), eta),
			At:        r.now().UTC(),
		})

		r.yield()
	}

	observe(Event{Type: EventRunStatus, Status: StatusCombining, At: r.now().UTC()})

	t0 := r.now()
	stitched := audio.Crossfade(buffers, r.fade)
	r.latency.Observe(observability.StageStitch, r.now().Sub(t0))

	t0 = r.now()
	wav, err := audio.EncodeWAVFloat32(stitched, r.sampleRate)
	if err != nil {
		return Result{}, r.fail(span, err)
	}
	r.latency.Observe(observability.StageEncode, r.now().Sub(t0))

	res := Result{
		Status:      ResultCompleted,
		WAV:         wav,
		SampleRate:  r.sampleRate,
		SampleCount: len(stitched),
		ChunkCount:  len(chunks),
		ChunkTimes:  times,
		Elapsed:     r.now().Sub(started),
	}
	r.latency.Observe(observability.StageRunTotal, res.Elapsed)
	if r.metrics != nil {
		r.metrics.ObserveRun(res.Elapsed, res.Duration())
	}
	span.SetAttributes(attribute.Int("samples", res.SampleCount))
	return res, nil
}

func (r *Runner) fail(span trace.Span, err error) error {
	span.RecordError(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		span.SetStatus(codes.Error, "canceled")
	} else {
		span.SetStatus(codes.Error, synth.ErrorStage(err))
	}
	return err
}
