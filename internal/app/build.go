package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/narrator/internal/artifacts"
	"github.com/ent0n29/narrator/internal/bus"
	"github.com/ent0n29/narrator/internal/config"
	"github.com/ent0n29/narrator/internal/httpapi"
	"github.com/ent0n29/narrator/internal/inference"
	"github.com/ent0n29/narrator/internal/observability"
	"github.com/ent0n29/narrator/internal/pipeline"
	"github.com/ent0n29/narrator/internal/session"
	"github.com/ent0n29/narrator/internal/synth"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Driver    *pipeline.Driver
	Artifacts artifacts.Store
	Publisher *bus.Publisher
	Metrics   *observability.Metrics
	Latency   *observability.LatencyWindow
	Logger    *slog.Logger

	mu     sync.Mutex
	engine inference.Engine
}

// Build wires the service. baseCtx bounds background runs: canceling it
// stops every run in flight. The model is not loaded here; call LoadModel.
func Build(baseCtx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(256)

	store, err := artifacts.NewStore(baseCtx, cfg.DatabaseURL, cfg.ArtifactSQLitePath)
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	var publisher *bus.Publisher
	var eventPublisher pipeline.EventPublisher
	if strings.TrimSpace(cfg.NATSURL) != "" {
		publisher, err = bus.Connect(cfg.NATSURL, "narrator", 5*time.Second, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("nats connect failed: %w", err)
		}
		eventPublisher = publisher
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	driver := pipeline.NewDriver(baseCtx, pipeline.DriverConfig{
		Sessions:  sessions,
		Artifacts: store,
		Publisher: eventPublisher,
		Metrics:   metrics,
		Latency:   latency,
		Logger:    logger,
	})

	api := httpapi.New(cfg, sessions, driver, metrics, latency, logger)

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Driver:    driver,
		Artifacts: store,
		Publisher: publisher,
		Metrics:   metrics,
		Latency:   latency,
		Logger:    logger,
	}, nil
}

// LoadModel resolves the phonemizer, inference engine and voice table and
// makes the driver ready. Runs started before it returns fail fast with
// pipeline.ErrNotReady.
func (b *BuildResult) LoadModel(ctx context.Context) (ModelInfo, error) {
	if err := ctx.Err(); err != nil {
		return ModelInfo{}, err
	}
	setup, err := resolveModel(b.Config)
	if err != nil {
		return ModelInfo{}, err
	}

	s, err := synth.New(setup.phonemizer, nil, setup.voices, setup.engine, b.Logger)
	if err != nil {
		_ = setup.engine.Close()
		return ModelInfo{}, fmt.Errorf("synthesizer init failed: %w", err)
	}

	b.mu.Lock()
	prev := b.engine
	b.engine = setup.engine
	b.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	b.Driver.SetRunner(pipeline.NewRunner(s, pipeline.RunnerConfig{
		SampleRate: b.Config.SampleRate,
		Crossfade:  b.Config.CrossfadeDuration,
		Metrics:    b.Metrics,
		Latency:    b.Latency,
		Logger:     b.Logger,
	}))
	b.API.SetVoices(setup.voices)
	return setup.info, nil
}

// Cleanup releases external resources. Call it after the driver has drained.
func (b *BuildResult) Cleanup() error {
	var errs []string
	b.mu.Lock()
	engine := b.engine
	b.engine = nil
	b.mu.Unlock()
	if engine != nil {
		if err := engine.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	b.Publisher.Close()
	if err := b.Artifacts.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
