package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-insight-client/internal/models"
	"video-insight-client/internal/observability/logging"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/service/status"
)

// ClipEntry is one received clip together with the folder the service wrote it to.
type ClipEntry struct {
	Index        int         `json:"index"`
	OutputFolder string      `json:"outputFolder"`
	MediaPath    string      `json:"mediaPath"`
	Clip         models.Clip `json:"clip"`
}

// Snapshot is a point-in-time copy of a session. It shares no mutable state with the session.
type Snapshot struct {
	ID             string                      `json:"id"`
	Source         string                      `json:"source,omitempty"`
	State          State                       `json:"state"`
	Message        string                      `json:"message,omitempty"`
	Progress       int                         `json:"progress"`
	Clips          []ClipEntry                 `json:"clips"`
	RunningSummary models.RunningSummary       `json:"runningSummary"`
	FakeDetection  *models.FakeDetectionResult `json:"fakeDetectionResult,omitempty"`
	Error          string                      `json:"error,omitempty"`
	DecodeErrors   int                         `json:"decodeErrors"`
	StartedAt      time.Time                   `json:"startedAt"`
	UpdatedAt      time.Time                   `json:"updatedAt"`
}

// Config controls a new session. Zero values select defaults.
type Config struct {
	ID      string
	Policy  ProgressPolicy
	Metrics *metrics.Metrics
}

// Session holds the state of one processing request.
//
// Transitions are forward-only:
//
//	IDLE ── Begin ──→ UPLOADING ── started/downloading ──→ PROCESSING ── complete ──→ COMPLETE
//	                      │                                     │
//	                      └──────────── error / Fail ───────────┴──────────────────→ FAILED
//
// A terminal session is never reused; a new request gets a new Session.
// Mutations happen on the stream-read goroutine; Snapshot may be called from anywhere.
type Session struct {
	mu           sync.RWMutex
	id           string
	source       string
	state        State
	message      string
	progress     int
	clips        []ClipEntry
	summary      models.RunningSummary
	fake         *models.FakeDetectionResult
	err          error
	decodeErrors int
	startedAt    time.Time
	updatedAt    time.Time

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	policy  ProgressPolicy
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a session in IDLE state.
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultProgressPolicy()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	return &Session{
		id:      cfg.ID,
		state:   StateIdle,
		summary: models.EmptySummary(),
		subs:    make(map[int]func(Snapshot)),
		policy:  cfg.Policy,
		metrics: cfg.Metrics,
		logger:  logging.WithSession(cfg.ID),
		now:     time.Now,
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that failed the session, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Clip returns the clip at index in arrival order.
func (s *Session) Clip(index int) (ClipEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.clips) {
		return ClipEntry{}, false
	}
	return s.clips[index], true
}

// Begin marks the request as issued. source describes what is being analysed.
func (s *Session) Begin(source string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.source = source
	s.startedAt = s.now()
	s.message = "Uploading..."
	s.transition(StateUploading)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info().Str("source", source).Msg("Session started")
	s.notify(snap)
	return nil
}

// Apply advances the session with one decoded status event.
// Events arriving after a terminal state return ErrSessionTerminal and change nothing.
func (s *Session) Apply(ev status.Event) error {
	s.mu.Lock()
	changed, err := s.applyLocked(ev)
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *Session) applyLocked(ev status.Event) (bool, error) {
	switch s.state {
	case StateIdle:
		return false, ErrNotStarted
	case StateComplete, StateFailed:
		return false, ErrSessionTerminal
	}

	switch ev.Kind {
	case status.KindStarted:
		s.startProcessing()
		s.message = ev.Message

	case status.KindDownloading:
		s.startProcessing()
		s.message = ev.Message
		s.advance(ev)

	case status.KindProcessing:
		s.startProcessing()
		s.message = ev.Message
		s.advance(ev)

	case status.KindClipReady:
		s.startProcessing()
		cr := ev.ClipReady
		entry := ClipEntry{
			Index:        len(s.clips),
			OutputFolder: cr.OutputFolder,
			MediaPath:    models.MediaPath(cr.OutputFolder, cr.Clip.Filename),
			Clip:         cr.Clip,
		}
		s.clips = append(s.clips, entry)
		s.summary = cr.RunningSummary
		s.message = fmt.Sprintf("Processed %d clip(s)", len(s.clips))
		s.metrics.RecordClip()
		clipLogger := logging.WithClip(s.id, cr.Clip.Filename, entry.Index)
		clipLogger.Info().
			Str("outputFolder", cr.OutputFolder).
			Int("detections", len(cr.Clip.Detections())).
			Msg("Clip received")

	case status.KindComplete:
		s.startProcessing()
		s.message = ev.Message
		if s.message == "" {
			s.message = "Processing complete"
		}
		s.progress = 100
		s.metrics.RecordProgress(s.progress)
		s.fake = ev.FakeDetection
		s.transition(StateComplete)
		s.logger.Info().
			Int("clips", len(s.clips)).
			Dur("elapsed", s.now().Sub(s.startedAt)).
			Msg("Session complete")

	case status.KindError:
		s.err = &UpstreamError{Message: ev.Message}
		s.message = ev.Message
		s.transition(StateFailed)
		s.logger.Warn().Str("message", ev.Message).Msg("Analysis service reported an error")

	default:
		s.logger.Debug().Str("status", ev.Status).Msg("Ignoring unknown status")
		return false, nil
	}
	return true, nil
}

// startProcessing moves UPLOADING to PROCESSING. The upload flow of the service
// may skip "started", so any progress-bearing event counts as the first one.
func (s *Session) startProcessing() {
	if s.state == StateUploading {
		s.transition(StateProcessing)
	}
}

func (s *Session) advance(ev status.Event) {
	s.progress = s.policy.Next(s.progress, ev)
	s.metrics.RecordProgress(s.progress)
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	s.updatedAt = s.now()
	s.metrics.RecordTransition(from.String(), to.String())
	s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("Session transition")
}

// Reject records a record that could not be decoded. The session state does not change.
func (s *Session) Reject(derr *status.DecodeError) {
	s.mu.Lock()
	s.decodeErrors++
	n := s.decodeErrors
	s.mu.Unlock()

	s.metrics.RecordDecodeError()
	raw := derr.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	s.logger.Warn().
		Err(derr.Cause).
		Str("record", raw).
		Int("decodeErrors", n).
		Msg("Skipping malformed status record")
}

// Fail moves a non-terminal session to FAILED with a transport error.
func (s *Session) Fail(err error) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return ErrNotStarted
	case StateComplete, StateFailed:
		s.mu.Unlock()
		return ErrSessionTerminal
	}
	s.err = err
	s.message = err.Error()
	s.transition(StateFailed)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Error().Err(err).Msg("Session failed")
	s.notify(snap)
	return nil
}

// Snapshot returns an immutable copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		Source:         s.source,
		State:          s.state,
		Message:        s.message,
		Progress:       s.progress,
		Clips:          append([]ClipEntry(nil), s.clips...),
		RunningSummary: s.summary,
		DecodeErrors:   s.decodeErrors,
		StartedAt:      s.startedAt,
		UpdatedAt:      s.updatedAt,
	}
	if snap.Clips == nil {
		snap.Clips = []ClipEntry{}
	}
	if s.fake != nil {
		f := *s.fake
		f.Reasons = append([]string(nil), s.fake.Reasons...)
		snap.FakeDetection = &f
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every applied transition.
// fn runs on the goroutine that mutated the session. The returned function unsubscribes.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Session) notify(snap Snapshot) {
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	fns := make([]func(Snapshot), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
