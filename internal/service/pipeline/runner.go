// Package pipeline drives a session from its analysis stream: it reads chunks,
// reassembles records, decodes them and applies them in arrival order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"video-insight-client/internal/models"
	"video-insight-client/internal/observability/logging"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/schema"
	"video-insight-client/internal/service/analysis"
	"video-insight-client/internal/service/session"
	"video-insight-client/internal/service/status"
	"video-insight-client/internal/service/stream"
)

// Limits are safety guardrails for one stream.
type Limits struct {
	MaxRecordBytes int           // Max bytes buffered without a separator
	MaxDuration    time.Duration // Max wall time for a whole session, zero for none
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRecordBytes: 16 * 1024 * 1024, // a clip record carries every detection of the clip
		MaxDuration:    2 * time.Hour,
	}
}

// Options configures a Runner.
type Options struct {
	// FlushTrailingRecord decodes bytes left without a final newline at end of stream.
	FlushTrailingRecord bool
	ReadBufferSize      int
	Policy              session.ProgressPolicy
	Limits              Limits
	// PublishQueue bounds the events waiting for the publisher. Events past it are dropped.
	PublishQueue        int
	PublishTimeout      time.Duration
}

// DefaultOptions returns the runner defaults.
func DefaultOptions() Options {
	return Options{
		FlushTrailingRecord: true,
		ReadBufferSize:      32 * 1024,
		Policy:              session.DefaultProgressPolicy(),
		Limits:              DefaultLimits(),
		PublishQueue:        256,
		PublishTimeout:      10 * time.Second,
	}
}

// Publisher receives clip and terminal status events. *events.Publisher implements it.
type Publisher interface {
	PublishClip(ctx context.Context, key string, event any) error
	PublishStatus(ctx context.Context, key string, event any) error
}

// ErrSuperseded is the cause of a run cancelled by a newer request.
var ErrSuperseded = errors.New("session superseded by a newer request")

// ErrSessionTimeout is the cause of a run that exceeded Limits.MaxDuration.
var ErrSessionTimeout = errors.New("session exceeded its maximum duration")

// ErrRecordTooLarge is returned when a record exceeds Limits.MaxRecordBytes.
var ErrRecordTooLarge = errors.New("record exceeds size limit")

type run struct {
	session *session.Session
	cancel  context.CancelCauseFunc
	done    chan struct{}
}

// Runner owns the active session. Starting a new request supersedes the
// previous one: its context is cancelled and its loop drops remaining chunks.
type Runner struct {
	source    analysis.Source
	outbox    *outbox
	validator *schema.Validator
	opts      Options
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu        sync.Mutex
	current   *run
	onSession []func(*session.Session)
	wg        sync.WaitGroup
}

// NewRunner creates a runner. publisher may be nil.
func NewRunner(source analysis.Source, publisher Publisher, opts Options, m *metrics.Metrics) *Runner {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 32 * 1024
	}
	if opts.PublishQueue <= 0 {
		opts.PublishQueue = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	logger := logging.WithComponent("pipeline")
	r := &Runner{
		source:    source,
		validator: schema.New(logger),
		opts:      opts,
		metrics:   m,
		logger:    logger,
	}
	if publisher != nil {
		r.outbox = newOutbox(publisher, opts.PublishQueue, opts.PublishTimeout, m, logger)
	}
	return r
}

// OnSession registers fn to be called with every new session before its stream is opened.
func (r *Runner) OnSession(fn func(*session.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSession = append(r.onSession, fn)
}

// Current returns the active or most recent session, or nil.
func (r *Runner) Current() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return r.current.session
}

// Start supersedes any running session and processes req on a new goroutine.
// The run outlives ctx's cancellation; use Stop or a newer Start to end it.
func (r *Runner) Start(ctx context.Context, req analysis.Request) (*session.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if r.opts.Limits.MaxDuration > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, r.opts.Limits.MaxDuration, ErrSessionTimeout)
		parent := cancel
		cancel = func(cause error) {
			parent(cause)
			stop()
		}
	}

	sess := session.New(session.Config{Policy: r.opts.Policy, Metrics: r.metrics})
	next := &run{session: sess, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.current
	r.current = next
	hooks := append([]func(*session.Session){}, r.onSession...)
	r.mu.Unlock()

	if prev != nil {
		prev.cancel(ErrSuperseded)
		r.logger.Info().
			Str("previous", prev.session.ID()).
			Str("next", sess.ID()).
			Msg("Superseding active session")
	}

	for _, fn := range hooks {
		fn(sess)
	}
	if err := sess.Begin(req.Describe()); err != nil {
		cancel(err)
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(next.done)
		defer cancel(nil)
		_ = r.Process(runCtx, sess, req)
	}()
	return sess, nil
}

// Wait blocks until the current run has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur == nil {
		return nil
	}
	select {
	case <-cur.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the active run and waits for every loop to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur != nil {
		cur.cancel(context.Canceled)
	}
	r.wg.Wait()
}

// Flush blocks until every event queued so far has been handed to the publisher.
func (r *Runner) Flush(ctx context.Context) error {
	if r.outbox == nil {
		return nil
	}
	return r.outbox.flush(ctx)
}

// Close stops the active run, then delivers queued events and stops publishing.
func (r *Runner) Close() {
	r.Stop()
	if r.outbox != nil {
		r.outbox.close()
	}
}

// Process opens req on the source and consumes the stream into sess.
// sess must already be begun.
func (r *Runner) Process(ctx context.Context, sess *session.Session, req analysis.Request) error {
	body, err := r.source.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			if !errors.Is(cause, ErrSessionTimeout) {
				return cause
			}
			err = &analysis.TransportError{Op: "open", Err: cause}
			r.metrics.RecordStreamEnd("timeout", 0)
			r.fail(sess, err)
			return err
		}
		var te *analysis.TransportError
		if !errors.As(err, &te) {
			err = &analysis.TransportError{Op: "open", Err: err}
		}
		r.metrics.RecordStreamEnd("open_failed", 0)
		r.fail(sess, err)
		return err
	}
	defer body.Close()

	// Unblock a pending Read when the run is cancelled.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	return r.Consume(ctx, sess, body)
}

// Consume reads body until EOF, applying each record to sess in arrival order.
// A superseded or stopped ctx ends the loop without touching sess, even between
// records of one chunk. A timed out ctx fails sess.
func (r *Runner) Consume(ctx context.Context, sess *session.Session, body io.Reader) error {
	start := time.Now()
	r.metrics.RecordStreamStart()
	outcome := "complete"
	defer func() {
		r.metrics.RecordStreamEnd(outcome, time.Since(start).Seconds())
	}()

	logger := logging.WithSession(sess.ID())
	buf := stream.NewBuffer()
	var err error
	chunk := make([]byte, r.opts.ReadBufferSize)

	for {
		n, readErr := body.Read(chunk)
		if ctx.Err() != nil {
			outcome, err = r.stopped(ctx, sess, n+buf.Pending())
			return err
		}
		if n > 0 {
			r.metrics.RecordBytes(n)
			recs := buf.Feed(chunk[:n])
			for i, rec := range recs {
				if ctx.Err() != nil {
					outcome, err = r.stopped(ctx, sess, len(recs)-i)
					return err
				}
				r.handle(sess, rec)
			}
			if limit := r.opts.Limits.MaxRecordBytes; limit > 0 && buf.Pending() > limit {
				outcome = "failed"
				err = &analysis.TransportError{Op: "read", Err: fmt.Errorf("%w: %d bytes without a separator", ErrRecordTooLarge, buf.Pending())}
				r.fail(sess, err)
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			outcome = "failed"
			err = &analysis.TransportError{Op: "read", Err: readErr}
			r.fail(sess, err)
			return err
		}
	}

	if ctx.Err() != nil {
		outcome, err = r.stopped(ctx, sess, buf.Pending())
		return err
	}
	if r.opts.FlushTrailingRecord {
		for _, rec := range buf.Flush() {
			r.metrics.RecordTrailingRecord("flushed")
			logger.Debug().Int("bytes", len(rec)).Msg("Decoding unterminated final record")
			r.handle(sess, rec)
		}
	} else if dropped := buf.Discard(); dropped > 0 {
		r.metrics.RecordTrailingRecord("discarded")
		logger.Warn().Int("bytes", dropped).Msg("Discarding unterminated final record")
	}

	st := sess.State()
	switch {
	case st == session.StateComplete:
		return nil
	case st == session.StateFailed:
		outcome = "failed"
		return sess.Err()
	default:
		outcome = "truncated"
		err = &analysis.TransportError{Op: "read", Err: analysis.ErrStreamTruncated}
		r.fail(sess, err)
		return err
	}
}

// stopped settles a run whose context ended mid-stream. A timeout fails sess;
// any other cause leaves it to whoever cancelled the run.
func (r *Runner) stopped(ctx context.Context, sess *session.Session, dropped int) (string, error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrSessionTimeout) {
		err := &analysis.TransportError{Op: "read", Err: cause}
		r.fail(sess, err)
		return "timeout", err
	}
	logger := logging.WithSession(sess.ID())
	logger.Debug().Err(cause).Int("dropped", dropped).Msg("Stream loop cancelled")
	return "superseded", cause
}

func (r *Runner) handle(sess *session.Session, rec string) {
	ev, err := status.Decode(rec)
	if err != nil {
		var derr *status.DecodeError
		if errors.As(err, &derr) {
			sess.Reject(derr)
		}
		return
	}
	r.metrics.RecordDecoded(ev.Kind.String())

	if ev.Kind == status.KindClipReady {
		r.validator.Validate(ev.ClipReady.Clip)
	}

	if err := sess.Apply(ev); err != nil {
		logger := logging.WithSession(sess.ID())
		logger.Debug().
			Err(err).
			Str("status", ev.Status).
			Stringer("state", sess.State()).
			Msg("Event not applied")
		return
	}

	switch {
	case ev.Kind == status.KindClipReady:
		r.publishClip(sess)
	case ev.IsTerminal():
		r.publishStatus(sess)
	}
}

func (r *Runner) fail(sess *session.Session, err error) {
	if sess.Fail(err) == nil {
		r.publishStatus(sess)
	}
}

func (r *Runner) publishClip(sess *session.Session) {
	if r.outbox == nil {
		return
	}
	snap := sess.Snapshot()
	if len(snap.Clips) == 0 {
		return
	}
	entry := snap.Clips[len(snap.Clips)-1]
	ev := models.ClipEvent{
		EventType:    models.EventTypeClipReady,
		SessionId:    snap.ID,
		ClipIndex:    entry.Index,
		OutputFolder: entry.OutputFolder,
		MediaPath:    entry.MediaPath,
		Clip:         entry.Clip,
		EventTime:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	r.outbox.enqueue(eventClip, snap.ID, ev)
}

func (r *Runner) publishStatus(sess *session.Session) {
	if r.outbox == nil {
		return
	}
	snap := sess.Snapshot()
	ev := models.SessionStatusEvent{
		EventType:      models.EventTypeSessionStatus,
		SessionId:      snap.ID,
		Source:         snap.Source,
		State:          strings.ToLower(snap.State.String()),
		Message:        snap.Message,
		Error:          snap.Error,
		ClipCount:      len(snap.Clips),
		DecodeErrors:   snap.DecodeErrors,
		RunningSummary: snap.RunningSummary,
		FakeDetection:  snap.FakeDetection,
		EventTime:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	r.outbox.enqueue(eventStatus, snap.ID, ev)
}
