// Package schema checks received clips for values the overlay cannot draw faithfully.
// Findings are warnings only; clips are never rejected.
package schema

import (
	"fmt"

	"github.com/rs/zerolog"

	"video-insight-client/internal/models"
)

// Warning is one questionable field in a clip.
type Warning struct {
	Field  string
	Reason string
}

func (w Warning) String() string {
	return w.Field + ": " + w.Reason
}

type Validator struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate logs and returns the warnings for clip.
func (v *Validator) Validate(clip models.Clip) []Warning {
	warnings := Check(clip)
	for _, w := range warnings {
		v.logger.Warn().
			Str("clip", clip.Filename).
			Str("field", w.Field).
			Msg(w.Reason)
	}
	return warnings
}

// Check returns the warnings for clip without logging.
func Check(clip models.Clip) []Warning {
	var out []Warning
	if clip.Filename == "" {
		out = append(out, Warning{"filename", "empty"})
	}
	if clip.Start != nil && clip.End != nil && *clip.Start > *clip.End {
		out = append(out, Warning{"start", fmt.Sprintf("start %.2f after end %.2f", *clip.Start, *clip.End)})
	}

	for i, d := range clip.Detections() {
		field := fmt.Sprintf("image_recognition.detections[%d]", i)
		box, ok := d.Box()
		if !ok {
			out = append(out, Warning{field + ".bbox", fmt.Sprintf("expected 4 values, got %d", len(d.BBox))})
		} else if box[0] > box[2] || box[1] > box[3] {
			out = append(out, Warning{field + ".bbox", "corners are not ordered top-left to bottom-right"})
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			out = append(out, Warning{field + ".confidence", fmt.Sprintf("%.3f outside [0,1]", d.Confidence)})
		}
		if d.Timestamp < 0 {
			out = append(out, Warning{field + ".timestamp", "negative"})
		}
	}
	return out
}
