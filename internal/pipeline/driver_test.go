package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/narrator/internal/artifacts"
	"github.com/ent0n29/narrator/internal/inference"
	"github.com/ent0n29/narrator/internal/observability"
	"github.com/ent0n29/narrator/internal/phoneme"
	"github.com/ent0n29/narrator/internal/session"
	"github.com/ent0n29/narrator/internal/synth"
	"github.com/ent0n29/narrator/internal/voices"
)

func newMockSynth(t *testing.T) *synth.Synthesizer {
	t.Helper()
	store, err := voices.New(map[string][]float32{"expr-voice-2-f": {0.1, 0.2, 0.3}})
	if err != nil {
		t.Fatalf("voices.New() error = %v", err)
	}
	s, err := synth.New(phoneme.MockPhonemizer{}, nil, store, inference.NewMockEngine(24000), nil)
	if err != nil {
		t.Fatalf("synth.New() error = %v", err)
	}
	return s
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishRunEvent(sessionID string, v any) error {
	ev, ok := v.(Event)
	if !ok {
		return fmt.Errorf("unexpected payload %T", v)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sessionID+":"+string(ev.Type))
	return nil
}

func newDriver(t *testing.T, ctx context.Context, pub EventPublisher) (*Driver, *session.Manager, *artifacts.InMemoryStore) {
	t.Helper()
	sessions := session.NewManager(time.Minute)
	store := artifacts.NewInMemoryStore(0)
	d := NewDriver(ctx, DriverConfig{
		Sessions:  sessions,
		Artifacts: store,
		Publisher: pub,
		Latency:   observability.NewLatencyWindow(16),
	})
	return d, sessions, store
}

func TestDriverCompletesRunAndStoresArtifact(t *testing.T) {
	pub := &recordingPublisher{}
	d, sessions, store := newDriver(t, context.Background(), pub)
	d.SetRunner(NewRunner(newMockSynth(t), RunnerConfig{Crossfade: 50 * time.Millisecond}))

	sess := sessions.Create("", "expr-voice-2-f", 1)
	events, unsubscribe := d.Subscribe(sess.ID)
	defer unsubscribe()

	runID, err := d.Start(context.Background(), sess.ID, Job{Text: "Hello there. How are you today?"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	d.Wait()

	got, err := sessions.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RunState != session.RunCompleted || got.Busy() {
		t.Fatalf("RunState = %q, want completed", got.RunState)
	}
	if got.Run.ID != runID || got.Run.StatusText != StatusDone || got.Run.Completed != 2 || got.Run.Total != 2 {
		t.Fatalf("run = %+v", got.Run)
	}

	art, err := store.Get(context.Background(), got.Run.ArtifactID)
	if err != nil {
		t.Fatalf("artifact Get() error = %v", err)
	}
	if art.Voice != "expr-voice-2-f" || art.Speed != 1 || art.ChunkCount != 2 || art.SampleRate != 24000 {
		t.Fatalf("artifact = %+v", art.Meta())
	}
	if !strings.HasPrefix(string(art.WAV), "RIFF") {
		t.Fatalf("artifact is not a WAV payload")
	}

	var types []EventType
	for len(events) > 0 {
		ev := <-events
		types = append(types, ev.Type)
		if ev.RunID != runID || ev.SessionID != sess.ID {
			t.Fatalf("event ids = %q/%q", ev.SessionID, ev.RunID)
		}
	}
	if len(types) < 3 || types[0] != EventRunStarted || types[len(types)-1] != EventRunCompleted {
		t.Fatalf("event types = %v", types)
	}

	pub.mu.Lock()
	published := len(pub.events)
	pub.mu.Unlock()
	if published != len(types) {
		t.Fatalf("published %d events, subscribers saw %d", published, len(types))
	}
}

func TestDriverUnknownVoiceFailsAndAllowsRetry(t *testing.T) {
	d, sessions, store := newDriver(t, context.Background(), nil)
	d.SetRunner(NewRunner(newMockSynth(t), RunnerConfig{}))
	sess := sessions.Create("", "expr-voice-2-f", 1)

	if _, err := d.Start(context.Background(), sess.ID, Job{Text: "One. Two.", Voice: "ghost"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	d.Wait()

	got, _ := sessions.Get(sess.ID)
	if got.RunState != session.RunFailed || got.Busy() {
		t.Fatalf("RunState = %q, want failed", got.RunState)
	}
	want := "Voice data for 'ghost' could not be found. Check voices.json."
	if got.Run.Error != want {
		t.Fatalf("Run.Error = %q, want %q", got.Run.Error, want)
	}
	if got.Run.ArtifactID != "" || store.Len() != 0 {
		t.Fatalf("failed run produced an artifact")
	}

	if _, err := d.Start(context.Background(), sess.ID, Job{Text: "One. Two."}); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	d.Wait()
	got, _ = sessions.Get(sess.ID)
	if got.RunState != session.RunCompleted {
		t.Fatalf("second RunState = %q, want completed", got.RunState)
	}
}

type blockingSynth struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingSynth) Synthesize(ctx context.Context, _ synth.Request) ([]float32, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return []float32{0.1, 0.2}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDriverRejectsConcurrentRun(t *testing.T) {
	d, sessions, _ := newDriver(t, context.Background(), nil)
	b := &blockingSynth{release: make(chan struct{}), started: make(chan struct{})}
	d.SetRunner(NewRunner(b, RunnerConfig{}))
	sess := sessions.Create("", "v", 1)

	first, err := d.Start(context.Background(), sess.ID, Job{Text: "Hello."})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-b.started

	if _, err := d.Start(context.Background(), sess.ID, Job{Text: "Again."}); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second Start() error = %v, want ErrRunInProgress", err)
	}
	got, _ := sessions.Get(sess.ID)
	if got.Run.ID != first || !got.Busy() {
		t.Fatalf("rejected start mutated session: %+v", got.Run)
	}

	close(b.release)
	d.Wait()
	got, _ = sessions.Get(sess.ID)
	if got.RunState != session.RunCompleted {
		t.Fatalf("RunState = %q, want completed", got.RunState)
	}
}

func TestDriverRejectsBeforeReadyAndBlankText(t *testing.T) {
	d, sessions, _ := newDriver(t, context.Background(), nil)
	sess := sessions.Create("", "v", 1)

	if d.Ready() {
		t.Fatalf("Ready() = true before SetRunner")
	}
	if _, err := d.Start(context.Background(), sess.ID, Job{Text: "Hi."}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
	if _, err := d.RunSync(context.Background(), Job{Text: "Hi.", Speed: 1}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("RunSync() error = %v, want ErrNotReady", err)
	}

	d.SetRunner(NewRunner(&scriptedSynth{}, RunnerConfig{}))
	if _, err := d.Start(context.Background(), sess.ID, Job{Text: "  \n\t"}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("Start() error = %v, want ErrEmptyText", err)
	}
	if _, err := d.Start(context.Background(), sess.ID, Job{Text: "Hi.", Speed: -1}); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("Start() error = %v, want ErrInvalidSpeed", err)
	}
	if _, err := d.Start(context.Background(), "missing", Job{Text: "Hi."}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Start() error = %v, want session.ErrNotFound", err)
	}

	got, _ := sessions.Get(sess.ID)
	if got.RunState != session.RunIdle || got.RunCount != 0 {
		t.Fatalf("rejected starts mutated session: %+v", got)
	}
}

func TestDriverNothingToProcess(t *testing.T) {
	d, sessions, store := newDriver(t, context.Background(), nil)
	d.SetRunner(NewRunner(&scriptedSynth{}, RunnerConfig{}))
	sess := sessions.Create("", "v", 1)

	if _, err := d.Start(context.Background(), sess.ID, Job{Text: "?!"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	d.Wait()

	got, _ := sessions.Get(sess.ID)
	if got.RunState != session.RunCompleted || got.Run.StatusText != StatusNothing || got.Run.ArtifactID != "" {
		t.Fatalf("run = %+v", got.Run)
	}
	if store.Len() != 0 {
		t.Fatalf("empty run stored an artifact")
	}
}

func TestDriverStopsOnShutdown(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	d, sessions, _ := newDriver(t, base, nil)
	b := &blockingSynth{release: make(chan struct{}), started: make(chan struct{})}
	d.SetRunner(NewRunner(b, RunnerConfig{}))
	sess := sessions.Create("", "v", 1)

	// The request context ending must not stop the run; only shutdown does.
	reqCtx, reqCancel := context.WithCancel(context.Background())
	if _, err := d.Start(reqCtx, sess.ID, Job{Text: "One. Two."}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	reqCancel()
	<-b.started

	got, _ := sessions.Get(sess.ID)
	if !got.Busy() {
		t.Fatalf("run stopped with the request context")
	}

	cancel()
	d.Wait()
	got, _ = sessions.Get(sess.ID)
	if got.RunState != session.RunFailed {
		t.Fatalf("RunState = %q, want failed", got.RunState)
	}
}

func TestDriverRunSync(t *testing.T) {
	d, _, _ := newDriver(t, context.Background(), nil)
	d.SetRunner(NewRunner(newMockSynth(t), RunnerConfig{}))

	res, err := d.RunSync(context.Background(), Job{Text: "Just one sentence.", Voice: "expr-voice-2-f", Speed: 1})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if res.Status != ResultCompleted || res.ChunkCount != 1 || len(res.WAV) == 0 {
		t.Fatalf("Result = %+v", res)
	}
}

func TestSubscribeEmptySessionIsClosed(t *testing.T) {
	d, _, _ := newDriver(t, context.Background(), nil)
	ch, unsubscribe := d.Subscribe(" ")
	defer unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}
