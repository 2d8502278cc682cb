package mock

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"video-insight-client/internal/service/analysis"
	"video-insight-client/internal/service/status"
	"video-insight-client/internal/service/stream"
)

var urlRequest = analysis.Request{Type: analysis.RequestURL, URL: "https://example.com/v.mp4", ClipDuration: 10}

func decodeAll(t *testing.T, r io.Reader) []status.Event {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	buf := stream.NewBuffer()
	var events []status.Event
	for _, rec := range buf.Feed(data) {
		ev, err := status.Decode(rec)
		if err != nil {
			t.Fatalf("decode %q: %v", rec, err)
		}
		events = append(events, ev)
	}
	if tail := buf.Flush(); len(tail) != 0 {
		t.Fatalf("unterminated tail %q", tail)
	}
	return events
}

func TestSource_StreamShape(t *testing.T) {
	src := New()
	src.Delay = 0
	src.ChunkSize = 7

	rc, err := src.Open(context.Background(), urlRequest)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()

	events := decodeAll(t, rc)
	if events[0].Kind != status.KindStarted {
		t.Errorf("expected first event started, got %v", events[0].Kind)
	}
	if last := events[len(events)-1]; last.Kind != status.KindComplete || last.FakeDetection == nil {
		t.Errorf("expected last event complete with verdict, got %+v", last)
	}

	var clips []status.Event
	for _, ev := range events {
		if ev.Kind == status.KindClipReady {
			clips = append(clips, ev)
		}
	}
	if len(clips) != len(DefaultClips) {
		t.Fatalf("expected %d clips, got %d", len(DefaultClips), len(clips))
	}
	for i, c := range clips {
		if c.ClipReady.RunningSummary.Metadata.ClipCount != i+1 {
			t.Errorf("clip %d: expected clip_count %d, got %d", i, i+1, c.ClipReady.RunningSummary.Metadata.ClipCount)
		}
		if len(c.ClipReady.Clip.Detections()) != len(DefaultClips[i].Objects) {
			t.Errorf("clip %d: detections not carried", i)
		}
	}
}

func TestSource_UploadSkipsDownloading(t *testing.T) {
	src := New()
	req := analysis.Request{Type: analysis.RequestUpload, Filename: "a.mp4", File: strings.NewReader("x"), ClipDuration: 5}

	records, err := src.Records(req)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	for _, r := range records {
		if strings.Contains(string(r), `"status":"downloading"`) {
			t.Error("upload stream should not report downloading")
		}
	}
}

func TestSource_FailAfter(t *testing.T) {
	src := New()
	src.Delay = 0
	src.FailAfter = 1

	rc, err := src.Open(context.Background(), urlRequest)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	events := decodeAll(t, rc)
	last := events[len(events)-1]
	if last.Kind != status.KindError {
		t.Errorf("expected error status last, got %v", last.Kind)
	}
}

func TestSource_CancelStopsStream(t *testing.T) {
	src := New()
	src.Delay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	rc, err := src.Open(ctx, urlRequest)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()

	p := make([]byte, 16)
	if _, err := rc.Read(p); err != nil {
		t.Fatalf("first read: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, rc)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestSource_InvalidRequest(t *testing.T) {
	_, err := New().Open(context.Background(), analysis.Request{Type: analysis.RequestURL})
	if !errors.Is(err, analysis.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}
