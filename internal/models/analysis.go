// Package models defines the data structures carried by the analysis stream.
package models

import (
	"encoding/json"
	"fmt"
	"path"
)

// Detection is one timestamped, classified bounding box in source-media pixel space.
// BBox is [x1, y1, x2, y2]; x1<=x2 and y1<=y2 are assumed, not enforced upstream.
type Detection struct {
	BBox       []float64 `json:"bbox"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Timestamp  float64   `json:"timestamp"`
}

// Box returns the four box coordinates. ok is false when the bbox is not exactly four values.
func (d Detection) Box() (box [4]float64, ok bool) {
	if len(d.BBox) != 4 {
		return box, false
	}
	copy(box[:], d.BBox)
	return box, true
}

// Label returns the overlay tag text, e.g. "person (87%)".
func (d Detection) Label() string {
	class := d.Class
	if class == "" {
		class = "Unknown"
	}
	return fmt.Sprintf("%s (%d%%)", class, roundPercent(d.Confidence))
}

func roundPercent(confidence float64) int {
	p := confidence * 100
	if p < 0 {
		return int(p - 0.5)
	}
	return int(p + 0.5)
}

// Classification is a scene-level label for a clip.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ImageRecognition groups the visual results of a clip.
type ImageRecognition struct {
	Detections      []Detection      `json:"detections"`
	Classifications []Classification `json:"classifications"`
}

// ClipSummary is the per-clip content summary. Error is set when the service found nothing to summarise.
type ClipSummary struct {
	KeyPhrases         []string `json:"key_phrases,omitempty"`
	Entities           []string `json:"entities,omitempty"`
	ImportantSentences []string `json:"important_sentences,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// Clip is one analysed video segment. Clips are never mutated after they are received.
type Clip struct {
	Filename         string           `json:"filename"`
	Start            *float64         `json:"start,omitempty"`
	End              *float64         `json:"end,omitempty"`
	ClipName         string           `json:"clip_name,omitempty"`
	SpeechText       string           `json:"speech_text,omitempty"`
	SpeechTranslated string           `json:"speech_translated,omitempty"`
	OCRText          string           `json:"ocr_text,omitempty"`
	OCRTranslated    string           `json:"ocr_translated,omitempty"`
	Summary          ClipSummary      `json:"summary"`
	ImageRecognition ImageRecognition `json:"image_recognition"`
	SourceURL        string           `json:"source_url,omitempty"`
	AccessTime       string           `json:"access_time,omitempty"`
}

// Detections returns the clip's detection set.
func (c Clip) Detections() []Detection {
	return c.ImageRecognition.Detections
}

// FormatOffset renders an optional clip offset in seconds, "N/A" when absent.
func FormatOffset(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *v)
}

// MediaPath is the playable resource path of a clip inside an output folder.
func MediaPath(outputFolder, filename string) string {
	return path.Join("/output", outputFolder, filename)
}

// SummaryMetadata is bookkeeping attached to a running summary.
type SummaryMetadata struct {
	LastUpdated string `json:"last_updated,omitempty"`
	ClipCount   int    `json:"clip_count"`
}

// RunningSummary is the aggregate summary sent with every clip_ready event.
// Each one replaces the previous; nothing is merged client-side.
type RunningSummary struct {
	KeyPhrases         []string        `json:"key_phrases"`
	Entities           []string        `json:"entities"`
	RecognizedObjects  []string        `json:"recognized_objects"`
	ImportantSentences []string        `json:"important_sentences"`
	Metadata           SummaryMetadata `json:"metadata"`
}

// UnmarshalJSON accepts the legacy key_topics name when key_phrases is absent
// and defaults missing lists to empty.
func (s *RunningSummary) UnmarshalJSON(data []byte) error {
	type plain RunningSummary
	var raw struct {
		plain
		KeyTopics []string `json:"key_topics"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = RunningSummary(raw.plain)
	if s.KeyPhrases == nil && raw.KeyTopics != nil {
		s.KeyPhrases = raw.KeyTopics
	}
	s.normalize()
	return nil
}

func (s *RunningSummary) normalize() {
	if s.KeyPhrases == nil {
		s.KeyPhrases = []string{}
	}
	if s.Entities == nil {
		s.Entities = []string{}
	}
	if s.RecognizedObjects == nil {
		s.RecognizedObjects = []string{}
	}
	if s.ImportantSentences == nil {
		s.ImportantSentences = []string{}
	}
}

// EmptySummary returns a summary with every list present and empty.
func EmptySummary() RunningSummary {
	var s RunningSummary
	s.normalize()
	return s
}

// FakeDetectionResult is the manipulation verdict delivered with the complete event.
type FakeDetectionResult struct {
	PotentialManipulation bool     `json:"potential_manipulation"`
	Reasons               []string `json:"reasons"`
}
