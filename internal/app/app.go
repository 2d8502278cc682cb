// Package app wires the configured components into one process-wide Application.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"video-insight-client/internal/config"
	"video-insight-client/internal/events"
	"video-insight-client/internal/observability/logging"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/overlay"
	"video-insight-client/internal/results"
	"video-insight-client/internal/service/analysis"
	"video-insight-client/internal/service/analysis/mock"
	"video-insight-client/internal/service/pipeline"
	"video-insight-client/internal/service/session"

	"github.com/rs/zerolog"
)

// ErrNotReady is reported by Ready before Start and after Shutdown.
var ErrNotReady = errors.New("application not ready")

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Metrics     *metrics.Metrics

	Source    analysis.Source
	Publisher *events.Publisher
	Runner    *pipeline.Runner
	Results   results.Store
	Renderer  *overlay.Renderer

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
// m may be nil to use the default metrics.
func New(cfg *config.Configuration, m *metrics.Metrics) (*Application, error) {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	a := &Application{
		Cfg:     cfg,
		Metrics: m,
		Logger: logging.WithComponent("application").With().
			Str("principal", cfg.Service.Principal).
			Logger(),
	}

	source, err := NewSource(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	a.Source = source

	a.Publisher = events.NewWithMetrics(&events.Config{
		Enabled:     cfg.Kafka.Enabled,
		Brokers:     cfg.Kafka.Brokers,
		TopicClips:  cfg.Kafka.TopicClips,
		TopicStatus: cfg.Kafka.TopicStatus,
		Principal:   cfg.Kafka.Principal,
	}, m)

	a.Runner = pipeline.NewRunner(source, a.Publisher, RunnerOptions(cfg.Session), m)
	store, err := NewResultsStore(cfg.Results)
	if err != nil {
		return nil, err
	}
	a.Results = store
	a.Renderer = overlay.NewRenderer(overlay.DefaultStyle(), m)

	a.Logger.Info().
		Str("provider", cfg.Analysis.Provider).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Str("resultsBackend", cfg.Results.Backend).
		Msg("Video insight application created")
	return a, nil
}

// NewSource selects the analysis stream source named by cfg.Provider.
func NewSource(cfg config.AnalysisConfig) (analysis.Source, error) {
	switch cfg.Provider {
	case "", "mock":
		src := mock.New()
		if cfg.MockChunkSize > 0 {
			src.ChunkSize = cfg.MockChunkSize
		}
		src.Delay = cfg.MockDelay
		if cfg.ClipDuration > 0 {
			src.ClipDuration = float64(cfg.ClipDuration)
		}
		return src, nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("analysis provider http needs a base url")
		}
		hc := analysis.DefaultHTTPConfig(cfg.BaseURL)
		if cfg.ResponseHeaderTimeout > 0 {
			hc.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		}
		return analysis.NewHTTPSource(hc), nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}

// maxProgressCap keeps derived progress below 100, which only COMPLETE may report.
const maxProgressCap = 99

// RunnerOptions maps the session config onto pipeline options.
func RunnerOptions(cfg config.SessionConfig) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.FlushTrailingRecord = cfg.FlushTrailingRecord
	if cfg.ReadBufferSize > 0 {
		opts.ReadBufferSize = cfg.ReadBufferSize
	}
	if cfg.ProgressStep > 0 && cfg.ProgressCap > 0 {
		opts.Policy = session.StepPolicy{Step: cfg.ProgressStep, Cap: min(cfg.ProgressCap, maxProgressCap)}
	}
	opts.Limits = pipeline.Limits{
		MaxRecordBytes: cfg.MaxRecordBytes,
		MaxDuration:    cfg.MaxDuration,
	}
	return opts
}

// NewResultsStore builds the saved-results store named by cfg.Backend.
func NewResultsStore(cfg config.ResultsConfig) (results.Store, error) {
	switch cfg.Backend {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("results backend http needs a base url")
		}
		return results.NewHTTPStore(cfg.BaseURL, cfg.Timeout), nil
	case "redis":
		client, err := results.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return results.NewRedisStore(client), nil
	case "", "memory":
		return results.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown results backend %q", cfg.Backend)
	}
}

// Request builds a processing request with the configured defaults filled in.
func (a *Application) Request(req analysis.Request) analysis.Request {
	if req.ClipDuration <= 0 {
		req.ClipDuration = a.Cfg.Analysis.ClipDuration
	}
	if req.TargetLanguage == "" {
		req.TargetLanguage = a.Cfg.Analysis.TargetLanguage
	}
	return req
}

// Process starts a new session for req, superseding any active one.
func (a *Application) Process(ctx context.Context, req analysis.Request) (*session.Session, error) {
	return a.Runner.Start(ctx, a.Request(req))
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Video insight service starting")

	return nil
}

// Ready reports whether the application accepts processing requests.
func (a *Application) Ready() error {
	if !a.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// Shutdown stops the active session, delivers queued events and closes the publisher.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	a.Runner.Close()
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Failed to close event publisher")
	}
	if c, ok := a.Results.(io.Closer); ok {
		if err := c.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Failed to close results store")
		}
	}
	shutdownLogger.Info().Msg("Video insight service shutting down")
}
