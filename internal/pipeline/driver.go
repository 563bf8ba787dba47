package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/narrator/internal/artifacts"
	"github.com/ent0n29/narrator/internal/observability"
	"github.com/ent0n29/narrator/internal/reliability"
	"github.com/ent0n29/narrator/internal/session"
)

var (
	ErrNotReady     = errors.New("model is not loaded yet")
	ErrEmptyText    = errors.New("text is empty")
	ErrInvalidSpeed = errors.New("speed must be greater than zero")
	// ErrRunInProgress is returned when the session already has a run in flight.
	ErrRunInProgress = session.ErrRunInProgress
)

// saveAttempts bounds retries of a failed artifact write.
const saveAttempts = 3

// EventPublisher forwards run events outside the process.
type EventPublisher interface {
	PublishRunEvent(sessionID string, v any) error
}

type DriverConfig struct {
	Sessions  *session.Manager
	Artifacts artifacts.Store
	Publisher EventPublisher
	Metrics   *observability.Metrics
	Latency   *observability.LatencyWindow
	Logger    *slog.Logger
}

// Driver owns the run lifecycle of sessions. It starts runs in the
// background, guards against concurrent runs per session, stores the
// resulting artifacts and fans out progress events.
type Driver struct {
	baseCtx   context.Context
	sessions  *session.Manager
	store     artifacts.Store
	publisher EventPublisher
	metrics   *observability.Metrics
	latency   *observability.LatencyWindow
	logger    *slog.Logger

	mu     sync.RWMutex
	runner *Runner

	subsMu      sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int

	wg sync.WaitGroup
}

// NewDriver returns a driver whose background runs stop when baseCtx is
// canceled.
func NewDriver(baseCtx context.Context, cfg DriverConfig) *Driver {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Artifacts == nil {
		cfg.Artifacts = artifacts.NewInMemoryStore(0)
	}
	return &Driver{
		baseCtx:     baseCtx,
		sessions:    cfg.Sessions,
		store:       cfg.Artifacts,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		latency:     cfg.Latency,
		logger:      cfg.Logger.With("component", "driver"),
		subscribers: make(map[string]map[int]chan Event),
	}
}

// SetRunner installs the runner once the model is loaded; the driver is
// ready from then on.
func (d *Driver) SetRunner(r *Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runner = r
}

func (d *Driver) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runner != nil
}

func (d *Driver) currentRunner() *Runner {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runner
}

// Artifacts exposes the store runs are saved to.
func (d *Driver) Artifacts() artifacts.Store {
	return d.store
}

// Start validates job, moves the session to running and processes the job
// in the background. Rejected starts leave the session untouched.
func (d *Driver) Start(ctx context.Context, sessionID string, job Job) (string, error) {
	if d.sessions == nil {
		return "", errors.New("driver has no session manager")
	}
	runner := d.currentRunner()
	if runner == nil {
		return "", ErrNotReady
	}
	if strings.TrimSpace(job.Text) == "" {
		return "", ErrEmptyText
	}

	sess, err := d.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(job.Voice) == "" {
		job.Voice = sess.VoiceID
	}
	if job.Speed == 0 {
		job.Speed = sess.Speed
	}
	if !(job.Speed > 0) {
		return "", ErrInvalidSpeed
	}

	runID := uuid.NewString()
	if _, err := d.sessions.BeginRun(sessionID, runID); err != nil {
		return "", err
	}
	if d.metrics != nil {
		d.metrics.RunningRuns.Inc()
	}

	d.emit(Event{Type: EventRunStarted, SessionID: sessionID, RunID: runID, Status: StatusStarting, At: time.Now().UTC()})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.baseCtx, cancel)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer stop()
		d.execute(runCtx, runner, sessionID, runID, job)
	}()
	return runID, nil
}

func (d *Driver) execute(ctx context.Context, runner *Runner, sessionID, runID string, job Job) {
	defer func() {
		if d.metrics != nil {
			d.metrics.RunningRuns.Dec()
		}
	}()

	logger := d.logger.With(slog.String("session_id", sessionID), slog.String("run_id", runID))
	started := time.Now()

	res, err := runner.Run(ctx, job, func(ev Event) {
		ev.SessionID = sessionID
		ev.RunID = runID
		switch ev.Type {
		case EventRunProgress:
			_ = d.sessions.UpdateProgress(sessionID, runID, ev.Completed, ev.Total, ev.ETA, ev.Status)
		case EventRunStatus:
			_ = d.sessions.SetStatus(sessionID, runID, ev.Status)
		}
		d.emit(ev)
	})
	if err != nil {
		d.failRun(logger, sessionID, runID, err)
		return
	}

	if res.Status == ResultNothing {
		_ = d.sessions.CompleteRun(sessionID, runID, "", StatusNothing)
		d.latency.CountOutcome("nothing")
		d.emit(Event{Type: EventRunCompleted, SessionID: sessionID, RunID: runID, Status: StatusNothing, At: time.Now().UTC()})
		logger.Info("run finished without chunks")
		return
	}

	art := artifacts.Artifact{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		RunID:       runID,
		Voice:       job.Voice,
		Speed:       job.Speed,
		SampleRate:  res.SampleRate,
		SampleCount: res.SampleCount,
		ChunkCount:  res.ChunkCount,
		WAV:         res.WAV,
		CreatedAt:   time.Now().UTC(),
	}
	err = reliability.Retry(ctx, saveAttempts, 50*time.Millisecond, time.Second, func(ctx context.Context) error {
		return d.store.Save(ctx, art)
	})
	if err != nil {
		d.failRun(logger, sessionID, runID, fmt.Errorf("save artifact: %w", err))
		return
	}

	_ = d.sessions.CompleteRun(sessionID, runID, art.ID, StatusDone)
	d.latency.CountOutcome("completed")
	d.emit(Event{
		Type:       EventRunCompleted,
		SessionID:  sessionID,
		RunID:      runID,
		Completed:  res.ChunkCount,
		Total:      res.ChunkCount,
		Status:     StatusDone,
		ArtifactID: art.ID,
		DurationMS: art.Duration().Milliseconds(),
		At:         time.Now().UTC(),
	})
	logger.Info("run completed",
		slog.String("artifact_id", art.ID),
		slog.Int("chunks", res.ChunkCount),
		slog.Int("samples", res.SampleCount),
		slog.Duration("elapsed", time.Since(started)),
	)
}

func (d *Driver) failRun(logger *slog.Logger, sessionID, runID string, err error) {
	msg := err.Error()
	_ = d.sessions.FailRun(sessionID, runID, msg)
	d.latency.CountOutcome("failed")
	d.emit(Event{
		Type:      EventRunFailed,
		SessionID: sessionID,
		RunID:     runID,
		Status:    failedStatus(err),
		Detail:    msg,
		At:        time.Now().UTC(),
	})
	logger.Error("run failed", slog.String("error", msg))
}

// RunSync runs job inline without a session. It is used by one-shot callers
// that want the audio in the response.
func (d *Driver) RunSync(ctx context.Context, job Job) (Result, error) {
	runner := d.currentRunner()
	if runner == nil {
		return Result{}, ErrNotReady
	}
	if strings.TrimSpace(job.Text) == "" {
		return Result{}, ErrEmptyText
	}
	if !(job.Speed > 0) {
		return Result{}, ErrInvalidSpeed
	}
	return runner.Run(ctx, job, nil)
}

// Subscribe returns a channel of events for sessionID and a function that
// detaches it. Slow subscribers drop events rather than stall runs.
func (d *Driver) Subscribe(sessionID string) (<-chan Event, func()) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 128)
	d.subsMu.Lock()
	d.nextSubID++
	id := d.nextSubID
	if _, ok := d.subscribers[sessionID]; !ok {
		d.subscribers[sessionID] = make(map[int]chan Event)
	}
	d.subscribers[sessionID][id] = ch
	d.subsMu.Unlock()

	return ch, func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		subs := d.subscribers[sessionID]
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(d.subscribers, sessionID)
		}
	}
}

func (d *Driver) emit(ev Event) {
	if d.metrics != nil {
		d.metrics.RunEvents.WithLabelValues(string(ev.Type)).Inc()
	}

	d.subsMu.Lock()
	for _, ch := range d.subscribers[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
	d.subsMu.Unlock()

	if d.publisher != nil {
		if err := d.publisher.PublishRunEvent(ev.SessionID, ev); err != nil {
			d.logger.Warn("publish run event failed",
				slog.String("session_id", ev.SessionID),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Wait blocks until every background run has returned.
func (d *Driver) Wait() {
	d.wg.Wait()
}
