package session

import (
	"errors"
	"strconv"
	"testing"

	"video-insight-client/internal/models"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/service/status"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return New(Config{ID: "sess-1", Metrics: metrics.NewMetrics(nil)})
}

func mustDecode(t *testing.T, record string) status.Event {
	t.Helper()
	ev, err := status.Decode(record)
	if err != nil {
		t.Fatalf("decode %s: %v", record, err)
	}
	return ev
}

func TestSession_InitialState(t *testing.T) {
	s := newTestSession(t)

	if s.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", s.State())
	}
	if s.ID() != "sess-1" {
		t.Errorf("expected sess-1, got %v", s.ID())
	}
	snap := s.Snapshot()
	if len(snap.Clips) != 0 || snap.Progress != 0 {
		t.Errorf("unexpected initial snapshot: %+v", snap)
	}
}

func TestSession_GeneratesID(t *testing.T) {
	a := New(Config{Metrics: metrics.NewMetrics(nil)})
	b := New(Config{Metrics: metrics.NewMetrics(nil)})
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("expected distinct generated IDs, got %q and %q", a.ID(), b.ID())
	}
}

func TestSession_ApplyBeforeBegin(t *testing.T) {
	s := newTestSession(t)
	if err := s.Apply(mustDecode(t, `{"status":"started"}`)); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if err := s.Begin("clip.mp4"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Begin("clip.mp4"); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSession_FullScenario(t *testing.T) {
	s := newTestSession(t)
	if err := s.Begin("https://example.com/v.mp4"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	records := []string{
		`{"status":"started","message":"Processing started"}`,
		`{"status":"processing","message":"Splitting","progress":10}`,
		`{"status":"clip_ready","data":{"clip":{"filename":"A.mp4","start":0,"end":10},"output_folder":"out1","running_summary":{"key_phrases":["a"]}}}`,
		`{"status":"processing","message":"Analysing","progress":50}`,
		`{"status":"complete","message":"Done"}`,
	}
	for _, r := range records {
		if err := s.Apply(mustDecode(t, r)); err != nil {
			t.Fatalf("apply %s: %v", r, err)
		}
	}

	snap := s.Snapshot()
	if snap.State != StateComplete {
		t.Errorf("expected StateComplete, got %v", snap.State)
	}
	if snap.Progress != 100 {
		t.Errorf("expected progress 100, got %d", snap.Progress)
	}
	if len(snap.Clips) != 1 || snap.Clips[0].Clip.Filename != "A.mp4" {
		t.Fatalf("expected clips [A.mp4], got %+v", snap.Clips)
	}
	if snap.Clips[0].MediaPath != "/output/out1/A.mp4" {
		t.Errorf("unexpected media path %q", snap.Clips[0].MediaPath)
	}
	if len(snap.RunningSummary.KeyPhrases) != 1 || snap.RunningSummary.KeyPhrases[0] != "a" {
		t.Errorf("unexpected summary %+v", snap.RunningSummary)
	}
	if snap.Message != "Done" {
		t.Errorf("expected message Done, got %q", snap.Message)
	}
}

func TestSession_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		want    State
	}{
		{"started moves to processing", []string{`{"status":"started"}`}, StateProcessing},
		{"downloading moves to processing", []string{`{"status":"downloading"}`}, StateProcessing},
		{"processing without started", []string{`{"status":"processing"}`}, StateProcessing},
		{"clip without started", []string{`{"status":"clip_ready","clip":{"filename":"x.mp4"}}`}, StateProcessing},
		{"complete without started", []string{`{"status":"complete"}`}, StateComplete},
		{"error while uploading", []string{`{"status":"error","message":"bad url"}`}, StateFailed},
		{"error while processing", []string{`{"status":"started"}`, `{"status":"error","message":"boom"}`}, StateFailed},
		{"unknown status ignored", []string{`{"status":"queued"}`}, StateUploading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			if err := s.Begin("v.mp4"); err != nil {
				t.Fatalf("begin: %v", err)
			}
			for _, r := range tt.records {
				if err := s.Apply(mustDecode(t, r)); err != nil {
					t.Fatalf("apply %s: %v", r, err)
				}
			}
			if s.State() != tt.want {
				t.Errorf("expected %v, got %v", tt.want, s.State())
			}
		})
	}
}

func TestSession_UpstreamErrorMessageVerbatim(t *testing.T) {
	s := newTestSession(t)
	_ = s.Begin("v.mp4")
	if err := s.Apply(mustDecode(t, `{"status":"error","message":"Video unavailable: private"}`)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var upstream *UpstreamError
	if !errors.As(s.Err(), &upstream) {
		t.Fatalf("expected UpstreamError, got %v", s.Err())
	}
	if upstream.Message != "Video unavailable: private" {
		t.Errorf("message not preserved: %q", upstream.Message)
	}
	if s.Snapshot().Message != "Video unavailable: private" {
		t.Errorf("snapshot message not preserved: %q", s.Snapshot().Message)
	}
}

func TestSession_TerminalRejectsEvents(t *testing.T) {
	for _, terminal := range []string{`{"status":"complete"}`, `{"status":"error","message":"x"}`} {
		s := newTestSession(t)
		_ = s.Begin("v.mp4")
		if err := s.Apply(mustDecode(t, terminal)); err != nil {
			t.Fatalf("apply: %v", err)
		}
		before := s.Snapshot()

		err := s.Apply(mustDecode(t, `{"status":"clip_ready","clip":{"filename":"late.mp4"}}`))
		if !errors.Is(err, ErrSessionTerminal) {
			t.Errorf("expected ErrSessionTerminal, got %v", err)
		}
		if err := s.Fail(errors.New("late transport error")); !errors.Is(err, ErrSessionTerminal) {
			t.Errorf("expected ErrSessionTerminal from Fail, got %v", err)
		}
		after := s.Snapshot()
		if after.State != before.State || len(after.Clips) != len(before.Clips) || after.Error != before.Error {
			t.Errorf("terminal session changed: before %+v after %+v", before, after)
		}
	}
}

func TestSession_ProgressMonotonic(t *testing.T) {
	s := newTestSession(t)
	_ = s.Begin("v.mp4")

	steps := []struct {
		record string
		want   int
	}{
		{`{"status":"processing"}`, 5},
		{`{"status":"downloading"}`, 10},
		{`{"status":"processing","progress":60}`, 60},
		{`{"status":"processing","progress":30}`, 60},
		{`{"status":"processing","progress":140}`, 95},
		{`{"status":"processing"}`, 95},
		{`{"status":"started"}`, 95},
	}
	for i, step := range steps {
		if err := s.Apply(mustDecode(t, step.record)); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := s.Snapshot().Progress; got != step.want {
			t.Errorf("step %d (%s): expected progress %d, got %d", i, step.record, step.want, got)
		}
	}
}

func TestSession_ClipsInArrivalOrder(t *testing.T) {
	s := newTestSession(t)
	_ = s.Begin("v.mp4")

	names := []string{"c0.mp4", "c1.mp4", "c2.mp4"}
	for i, n := range names {
		rec := `{"status":"clip_ready","data":{"clip":{"filename":"` + n + `"},"output_folder":"o","running_summary":{"metadata":{"clip_count":` + strconv.Itoa(i+1) + `}}}}`
		if err := s.Apply(mustDecode(t, rec)); err != nil {
			t.Fatalf("apply %s: %v", n, err)
		}
	}

	snap := s.Snapshot()
	for i, n := range names {
		if snap.Clips[i].Clip.Filename != n || snap.Clips[i].Index != i {
			t.Errorf("clip %d: expected %s, got %+v", i, n, snap.Clips[i])
		}
	}
	if snap.RunningSummary.Metadata.ClipCount != 3 {
		t.Errorf("expected last summary to win, got clip_count %d", snap.RunningSummary.Metadata.ClipCount)
	}
	if snap.Message != "Processed 3 clip(s)" {
		t.Errorf("unexpected message %q", snap.Message)
	}

	entry, ok := s.Clip(1)
	if !ok || entry.Clip.Filename != "c1.mp4" {
		t.Errorf("Clip(1) = %+v, %v", entry, ok)
	}
	if _, ok := s.Clip(3); ok {
		t.Error("expected Clip(3) to be absent")
	}
}

func TestSession_DecodeErrorDoesNotBlockNextRecord(t *testing.T) {
	s := newTestSession(t)
	_ = s.Begin("v.mp4")

	records := []string{
		`{"status":"started"}`,
		`{"status":"processing",`,
		`{"status":"clip_ready","clip":{"filename":"after.mp4"}}`,
	}
	for _, r := range records {
		ev, err := status.Decode(r)
		var derr *status.DecodeError
		if errors.As(err, &derr) {
			s.Reject(derr)
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.Apply(ev); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	snap := s.Snapshot()
	if snap.DecodeErrors != 1 {
		t.Errorf("expected 1 decode error, got %d", snap.DecodeErrors)
	}
	if len(snap.Clips) != 1 || snap.Clips[0].Clip.Filename != "after.mp4" {
		t.Errorf("expected record after the malformed one to apply, got %+v", snap.Clips)
	}
	if snap.State != StateProcessing {
		t.Errorf("expected StateProcessing, got %v", snap.State)
	}
}

func TestSession_Fail(t *testing.T) {
	s := newTestSession(t)
	if err := s.Fail(errors.New("dial tcp: refused")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}

	_ = s.Begin("v.mp4")
	cause := errors.New("stream ended before completion")
	if err := s.Fail(cause); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if s.State() != StateFailed {
		t.Errorf("expected StateFailed, got %v", s.State())
	}
	if !errors.Is(s.Err(), cause) {
		t.Errorf("expected stored cause, got %v", s.Err())
	}
	if s.Snapshot().Error != cause.Error() {
		t.Errorf("unexpected snapshot error %q", s.Snapshot().Error)
	}
}

func TestSession_CompleteStoresFakeDetection(t *testing.T) {
	s := newTestSession(t)
	_ = s.Begin("v.mp4")
	rec := `{"status":"complete","fake_detection_result":{"potential_manipulation":true,"reasons":["lip sync drift"]}}`
	if err := s.Apply(mustDecode(t, rec)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snap := s.Snapshot()
	if snap.FakeDetection == nil || !snap.FakeDetection.PotentialManipulation {
		t.Fatalf("expected fake detection result, got %+v", snap.FakeDetection)
	}
	snap.FakeDetection.Reasons[0] = "mutated"
	if s.Snapshot().FakeDetection.Reasons[0] != "lip sync drift" {
		t.Error("snapshot shares reasons with the session")
	}
}

func TestSession_Subscribe(t *testing.T) {
	s := newTestSession(t)

	var states []State
	cancel := s.Subscribe(func(snap Snapshot) {
		states = append(states, snap.State)
	})

	_ = s.Begin("v.mp4")
	_ = s.Apply(mustDecode(t, `{"status":"started"}`))
	_ = s.Apply(mustDecode(t, `{"status":"queued"}`))
	cancel()
	cancel()
	_ = s.Apply(mustDecode(t, `{"status":"complete"}`))

	want := []State{StateUploading, StateProcessing}
	if len(states) != len(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("notification %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

func TestSession_SnapshotIsolated(t *testing.T) {
	s := newTestSession(t)
	_ = s.Begin("v.mp4")
	_ = s.Apply(mustDecode(t, `{"status":"clip_ready","clip":{"filename":"a.mp4"}}`))

	snap := s.Snapshot()
	snap.Clips[0] = ClipEntry{Clip: models.Clip{Filename: "changed"}}
	if entry, _ := s.Clip(0); entry.Clip.Filename != "a.mp4" {
		t.Error("snapshot shares clip storage with the session")
	}
}
