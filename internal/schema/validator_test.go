package schema

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"video-insight-client/internal/models"
)

func ptr(v float64) *float64 { return &v }

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		clip   models.Clip
		fields []string
	}{
		{
			name: "clean",
			clip: models.Clip{Filename: "a.mp4", Start: ptr(0), End: ptr(10), ImageRecognition: models.ImageRecognition{
				Detections: []models.Detection{{BBox: []float64{1, 2, 3, 4}, Confidence: 0.5, Timestamp: 1}},
			}},
		},
		{
			name:   "reversed offsets",
			clip:   models.Clip{Filename: "a.mp4", Start: ptr(10), End: ptr(5)},
			fields: []string{"start"},
		},
		{
			name: "bad detections",
			clip: models.Clip{Filename: "a.mp4", ImageRecognition: models.ImageRecognition{
				Detections: []models.Detection{
					{BBox: []float64{1, 2, 3}, Confidence: 0.5},
					{BBox: []float64{30, 2, 3, 4}, Confidence: 1.5, Timestamp: -1},
				},
			}},
			fields: []string{
				"image_recognition.detections[0].bbox",
				"image_recognition.detections[1].bbox",
				"image_recognition.detections[1].confidence",
				"image_recognition.detections[1].timestamp",
			},
		},
		{
			name:   "no filename",
			clip:   models.Clip{},
			fields: []string{"filename"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, w := range Check(tt.clip) {
				got = append(got, w.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestValidator_LogsWarnings(t *testing.T) {
	var buf bytes.Buffer
	v := New(zerolog.New(&buf))

	warnings := v.Validate(models.Clip{Filename: "a.mp4", Start: ptr(3), End: ptr(1)})

	assert.Len(t, warnings, 1)
	assert.Contains(t, buf.String(), `"field":"start"`)
	assert.Contains(t, buf.String(), `"clip":"a.mp4"`)
}
