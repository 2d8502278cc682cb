// Package mock provides an analysis source that needs no running service.
// It replays a realistic status stream: started, progress messages, one
// clip_ready per simulated clip with a growing running summary, then complete.
// Records are written in small chunks so callers see records split across reads.
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"video-insight-client/internal/models"
	"video-insight-client/internal/service/analysis"
	"video-insight-client/internal/service/status"
)

// SimulatedClip is one clip the mock service will report.
type SimulatedClip struct {
	SpeechText string
	OCRText    string
	KeyPhrases []string
	Entities   []string
	Objects    []models.Detection
}

// DefaultClips provides sample clips for simulation.
var DefaultClips = []SimulatedClip{
	{
		SpeechText: "Welcome back to the evening traffic report",
		OCRText:    "LIVE",
		KeyPhrases: []string{"traffic report"},
		Entities:   []string{"Ring Road"},
		Objects: []models.Detection{
			{BBox: []float64{120, 200, 360, 330}, Class: "car", Confidence: 0.91, Timestamp: 1.0},
			{BBox: []float64{400, 180, 470, 400}, Class: "person", Confidence: 0.84, Timestamp: 1.0},
			{BBox: []float64{130, 205, 370, 335}, Class: "car", Confidence: 0.9, Timestamp: 2.0},
			{BBox: []float64{600, 10, 700, 60}, Class: "traffic light", Confidence: 0.62, Timestamp: 4.5},
		},
	},
	{
		SpeechText: "Delays are expected near the bridge until nine",
		OCRText:    "BRIDGE CLOSED",
		KeyPhrases: []string{"delays", "bridge"},
		Entities:   []string{"North Bridge"},
		Objects: []models.Detection{
			{BBox: []float64{50, 5, 250, 120}, Class: "truck", Confidence: 0.77, Timestamp: 0.5},
			{BBox: []float64{300, 220, 380, 420}, Class: "person", Confidence: 0.95, Timestamp: 3.0},
		},
	},
	{
		SpeechText: "That is all for tonight, drive safely",
		KeyPhrases: []string{"drive safely"},
		Objects: []models.Detection{
			{BBox: []float64{200, 100, 520, 400}, Class: "person", Confidence: 0.98, Timestamp: 2.5},
		},
	},
}

// Source implements analysis.Source with canned responses.
type Source struct {
	Clips        []SimulatedClip
	ClipDuration float64
	ChunkSize    int
	Delay        time.Duration
	OutputFolder string
	// FailAfter, when positive, ends the stream with an error status after that many clips.
	FailAfter int
}

// New creates a mock source replaying DefaultClips.
func New() *Source {
	return &Source{
		Clips:        DefaultClips,
		ClipDuration: 10,
		ChunkSize:    48,
		Delay:        20 * time.Millisecond,
		OutputFolder: "mock-output",
	}
}

// Open implements analysis.Source. The stream is produced by a goroutine that
// stops when ctx is cancelled or the reader is closed.
func (s *Source) Open(ctx context.Context, req analysis.Request) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	records, err := s.Records(req)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	var once sync.Once
	go func() {
		defer once.Do(func() { pw.Close() })
		chunk := s.ChunkSize
		if chunk <= 0 {
			chunk = 48
		}
		for _, rec := range records {
			for off := 0; off < len(rec); off += chunk {
				end := min(off+chunk, len(rec))
				if s.Delay > 0 {
					select {
					case <-ctx.Done():
						once.Do(func() { pw.CloseWithError(ctx.Err()) })
						return
					case <-time.After(s.Delay):
					}
				} else if ctx.Err() != nil {
					once.Do(func() { pw.CloseWithError(ctx.Err()) })
					return
				}
				if _, err := pw.Write(rec[off:end]); err != nil {
					return
				}
			}
		}
	}()
	return pr, nil
}

// Records returns the full newline-terminated stream for req.
func (s *Source) Records(req analysis.Request) ([][]byte, error) {
	events := s.events(req)
	out := make([][]byte, 0, len(events))
	for _, ev := range events {
		b, err := status.Encode(ev)
		if err != nil {
			return nil, fmt.Errorf("encode mock %s record: %w", ev.Kind, err)
		}
		out = append(out, append(b, '\n'))
	}
	return out, nil
}

func (s *Source) events(req analysis.Request) []status.Event {
	evs := []status.Event{
		{Kind: status.KindStarted, Message: "Processing started: " + req.Describe()},
	}
	if req.Type == analysis.RequestURL {
		evs = append(evs, status.Event{Kind: status.KindDownloading, Message: "Downloading video"})
	}
	evs = append(evs, status.Event{Kind: status.KindProcessing, Message: "Splitting video into clips"})

	summary := models.EmptySummary()
	for i, c := range s.Clips {
		if s.FailAfter > 0 && i == s.FailAfter {
			return append(evs, status.Event{Kind: status.KindError, Message: fmt.Sprintf("Error processing clip %d", i+1)})
		}
		evs = append(evs, status.Event{
			Kind:    status.KindProcessing,
			Message: fmt.Sprintf("Analysing clip %d of %d", i+1, len(s.Clips)),
		})

		start := float64(i) * s.ClipDuration
		end := start + s.ClipDuration
		clip := models.Clip{
			Filename:   fmt.Sprintf("clip_%03d.mp4", i+1),
			Start:      &start,
			End:        &end,
			ClipName:   fmt.Sprintf("Clip %d", i+1),
			SpeechText: c.SpeechText,
			OCRText:    c.OCRText,
			Summary:    models.ClipSummary{KeyPhrases: c.KeyPhrases, Entities: c.Entities},
			ImageRecognition: models.ImageRecognition{
				Detections:      c.Objects,
				Classifications: []models.Classification{},
			},
		}
		if req.Type == analysis.RequestURL {
			clip.SourceURL = req.URL
		}

		summary = accumulate(summary, c, i+1)
		evs = append(evs, status.Event{
			Kind: status.KindClipReady,
			ClipReady: &status.ClipReady{
				Clip:           clip,
				OutputFolder:   s.OutputFolder,
				RunningSummary: summary,
			},
		})
	}

	return append(evs, status.Event{
		Kind:    status.KindComplete,
		Message: "Processing complete",
		FakeDetection: &models.FakeDetectionResult{
			PotentialManipulation: false,
			Reasons:               []string{},
		},
	})
}

func accumulate(prev models.RunningSummary, c SimulatedClip, count int) models.RunningSummary {
	next := models.RunningSummary{
		KeyPhrases:         append(append([]string{}, prev.KeyPhrases...), c.KeyPhrases...),
		Entities:           append(append([]string{}, prev.Entities...), c.Entities...),
		RecognizedObjects:  append([]string{}, prev.RecognizedObjects...),
		ImportantSentences: append(append([]string{}, prev.ImportantSentences...), c.SpeechText),
		Metadata:           models.SummaryMetadata{ClipCount: count},
	}
	seen := make(map[string]bool, len(next.RecognizedObjects))
	for _, o := range next.RecognizedObjects {
		seen[o] = true
	}
	for _, d := range c.Objects {
		if !seen[d.Class] {
			seen[d.Class] = true
			next.RecognizedObjects = append(next.RecognizedObjects, d.Class)
		}
	}
	return next
}
