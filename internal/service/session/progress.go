package session

import "video-insight-client/internal/service/status"

// ProgressPolicy derives the next progress percentage from a progress-bearing event.
// Implementations must never return less than current.
type ProgressPolicy interface {
	Next(current int, ev status.Event) int
}

// StepPolicy advances by Step for every progress message and never passes Cap.
// A progress value reported by the service replaces the step when present.
// Progress only reaches 100 on completion, never through the policy.
type StepPolicy struct {
	Step int
	Cap  int
}

// DefaultProgressPolicy is +5 per message, capped at 95.
func DefaultProgressPolicy() StepPolicy {
	return StepPolicy{Step: 5, Cap: 95}
}

// Next implements ProgressPolicy.
func (p StepPolicy) Next(current int, ev status.Event) int {
	next := current + p.Step
	if ev.Progress != nil {
		next = *ev.Progress
	}
	if next > p.Cap {
		next = p.Cap
	}
	if next < 0 {
		next = 0
	}
	if next < current {
		return current
	}
	return next
}
