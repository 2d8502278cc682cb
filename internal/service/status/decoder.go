package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"video-insight-client/internal/models"
)

// ErrEmptyRecord is returned for blank records. Callers skip them; it is not a failure.
var ErrEmptyRecord = errors.New("empty record")

var (
	errMissingStatus = errors.New("missing status field")
	errMissingClip   = errors.New("clip_ready without clip")
)

// DecodeError reports one record that could not be decoded. The stream continues.
type DecodeError struct {
	Raw   string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode record: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

type clipReadyPayload struct {
	Clip              *models.Clip           `json:"clip,omitempty"`
	OutputFolder      string                 `json:"output_folder,omitempty"`
	OutputFolderCamel string                 `json:"outputFolder,omitempty"`
	RunningSummary    *models.RunningSummary `json:"running_summary,omitempty"`
	RunningSummaryAlt *models.RunningSummary `json:"runningSummary,omitempty"`
}

func (p clipReadyPayload) folder() string {
	if p.OutputFolder != "" {
		return p.OutputFolder
	}
	return p.OutputFolderCamel
}

func (p clipReadyPayload) summary() *models.RunningSummary {
	if p.RunningSummary != nil {
		return p.RunningSummary
	}
	return p.RunningSummaryAlt
}

// wireRecord is the JSON shape of a record. clip_ready payloads are nested
// under data by the service; a flat layout is accepted too.
type wireRecord struct {
	Status   *string  `json:"status"`
	Message  string   `json:"message,omitempty"`
	Progress *float64 `json:"progress,omitempty"`

	Data *clipReadyPayload `json:"data,omitempty"`
	clipReadyPayload

	FakeDetection      *models.FakeDetectionResult `json:"fake_detection_result,omitempty"`
	FakeDetectionCamel *models.FakeDetectionResult `json:"fakeDetectionResult,omitempty"`
}

// Decode parses one record. Blank records yield ErrEmptyRecord; anything
// that is not a JSON object with a string status yields a *DecodeError.
// Decode has no side effects.
func Decode(record string) (Event, error) {
	trimmed := strings.TrimSpace(record)
	if trimmed == "" {
		return Event{}, ErrEmptyRecord
	}

	var w wireRecord
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Event{}, &DecodeError{Raw: record, Cause: err}
	}
	if w.Status == nil {
		return Event{}, &DecodeError{Raw: record, Cause: errMissingStatus}
	}

	ev := Event{
		Kind:   ParseKind(*w.Status),
		Status: *w.Status,
		Raw:    json.RawMessage(trimmed),
	}

	switch ev.Kind {
	case KindStarted, KindDownloading, KindError:
		ev.Message = w.Message
	case KindProcessing:
		ev.Message = w.Message
		if w.Progress != nil && !math.IsNaN(*w.Progress) {
			p := int(math.Round(*w.Progress))
			ev.Progress = &p
		}
	case KindClipReady:
		payload := w.clipReadyPayload
		if w.Data != nil {
			payload = *w.Data
		}
		if payload.Clip == nil {
			return Event{}, &DecodeError{Raw: record, Cause: errMissingClip}
		}
		summary := models.EmptySummary()
		if s := payload.summary(); s != nil {
			summary = *s
		}
		ev.ClipReady = &ClipReady{
			Clip:           *payload.Clip,
			OutputFolder:   payload.folder(),
			RunningSummary: summary,
		}
	case KindComplete:
		ev.Message = w.Message
		ev.FakeDetection = w.FakeDetection
		if ev.FakeDetection == nil {
			ev.FakeDetection = w.FakeDetectionCamel
		}
	}

	return ev, nil
}

type wireClipReady struct {
	Clip           models.Clip           `json:"clip"`
	OutputFolder   string                `json:"output_folder"`
	RunningSummary models.RunningSummary `json:"running_summary"`
}

type wireOut struct {
	Status        string                      `json:"status"`
	Message       string                      `json:"message,omitempty"`
	Progress      *int                        `json:"progress,omitempty"`
	Data          *wireClipReady              `json:"data,omitempty"`
	FakeDetection *models.FakeDetectionResult `json:"fake_detection_result,omitempty"`
}

// Encode serialises an event in the canonical wire layout. Unknown events
// are returned exactly as they were received.
func Encode(ev Event) ([]byte, error) {
	if ev.Kind == KindUnknown {
		if len(ev.Raw) == 0 {
			return nil, fmt.Errorf("encode %q: unknown event without raw record", ev.Status)
		}
		return []byte(ev.Raw), nil
	}

	out := wireOut{
		Status:        ev.Kind.String(),
		Message:       ev.Message,
		Progress:      ev.Progress,
		FakeDetection: ev.FakeDetection,
	}
	if ev.Kind == KindClipReady {
		if ev.ClipReady == nil {
			return nil, fmt.Errorf("encode clip_ready: %w", errMissingClip)
		}
		out.Data = &wireClipReady{
			Clip:           ev.ClipReady.Clip,
			OutputFolder:   ev.ClipReady.OutputFolder,
			RunningSummary: ev.ClipReady.RunningSummary,
		}
	}
	return json.Marshal(out)
}
