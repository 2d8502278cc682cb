package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"video-insight-client/internal/observability/metrics"
)

const (
	eventClip   = "clip_ready"
	eventStatus = "session_status"
)

type outboxJob struct {
	eventType string
	key       string
	event     any
	barrier   chan struct{}
}

// outbox hands events to the publisher on its own goroutine, in order.
// A slow or unreachable broker never stalls a stream-read loop; when the
// queue is full new events are dropped and counted.
type outbox struct {
	publisher Publisher
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	jobs     chan outboxJob
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newOutbox(p Publisher, size int, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *outbox {
	o := &outbox{
		publisher: p,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
		jobs:      make(chan outboxJob, size),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go o.loop()
	return o
}

// enqueue never blocks. It reports false when the event was dropped.
func (o *outbox) enqueue(eventType, key string, event any) bool {
	select {
	case <-o.quit:
	default:
		select {
		case o.jobs <- outboxJob{eventType: eventType, key: key, event: event}:
			return true
		default:
		}
	}
	o.metrics.RecordEventDropped(eventType)
	o.logger.Warn().Str("eventType", eventType).Str("sessionId", key).Msg("Publish queue full, dropping event")
	return false
}

// flush waits until every event queued before the call has been handed to the publisher.
func (o *outbox) flush(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case o.jobs <- outboxJob{barrier: barrier}:
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close delivers what is already queued and stops the goroutine.
func (o *outbox) close() {
	o.stopOnce.Do(func() { close(o.quit) })
	<-o.done
}

func (o *outbox) loop() {
	defer close(o.done)
	for {
		select {
		case job := <-o.jobs:
			o.run(job)
		case <-o.quit:
			for {
				select {
				case job := <-o.jobs:
					o.run(job)
				default:
					return
				}
			}
		}
	}
}

func (o *outbox) run(job outboxJob) {
	if job.barrier != nil {
		close(job.barrier)
		return
	}
	o.deliver(job)
}

func (o *outbox) deliver(job outboxJob) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	var err error
	switch job.eventType {
	case eventClip:
		err = o.publisher.PublishClip(ctx, job.key, job.event)
	default:
		err = o.publisher.PublishStatus(ctx, job.key, job.event)
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("eventType", job.eventType).Str("sessionId", job.key).Msg("Failed to publish event")
	}
}
