// Package status decodes records of the analysis stream into typed events.
package status

import (
	"encoding/json"

	"video-insight-client/internal/models"
)

// Kind is the status tag of an event.
type Kind int

const (
	// KindUnknown - tag not recognised; the raw record is preserved.
	KindUnknown Kind = iota
	KindStarted
	KindDownloading
	KindProcessing
	KindClipReady
	KindComplete
	KindError
)

var kindNames = map[Kind]string{
	KindStarted:     "started",
	KindDownloading: "downloading",
	KindProcessing:  "processing",
	KindClipReady:   "clip_ready",
	KindComplete:    "complete",
	KindError:       "error",
}

// String returns the wire tag of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a wire tag to its Kind. Unrecognised tags map to KindUnknown.
func ParseKind(tag string) Kind {
	for k, name := range kindNames {
		if name == tag {
			return k
		}
	}
	return KindUnknown
}

// ClipReady is the payload of a clip_ready event.
type ClipReady struct {
	Clip           models.Clip
	OutputFolder   string
	RunningSummary models.RunningSummary
}

// Event is one decoded status record. Exactly one Kind is active; only the
// fields belonging to that kind are populated. Events are immutable once decoded.
type Event struct {
	Kind Kind
	// Status is the tag exactly as received, which differs from Kind.String() for unknown tags.
	Status        string
	Message       string
	Progress      *int
	ClipReady     *ClipReady
	FakeDetection *models.FakeDetectionResult
	// Raw is the record the event was decoded from.
	Raw json.RawMessage
}

// IsTerminal reports whether the event ends a processing session.
func (e Event) IsTerminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}
