package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-insight-client/internal/app"
	"video-insight-client/internal/config"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/service/session"
)

type fixture struct {
	app    *app.Application
	hub    *Hub
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Analysis.MockDelay = 0
	m := metrics.NewMetrics(nil)

	a, err := app.New(cfg, m)
	require.NoError(t, err)
	require.NoError(t, a.Start())

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(m)
	hub.Follow(a.Runner)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(a, hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		a.Shutdown()
	})
	return &fixture{app: a, hub: hub, server: srv}
}

func (f *fixture) processURL(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(f.server.URL+"/v1/process", "application/json",
		strings.NewReader(`{"type":"url","url":"https://example.com/news.mp4","clipDuration":10}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body processResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.app.Runner.Wait(ctx))
	return body.SessionID
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/v1/liveness")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/v1/readiness")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSession_NoneYet(t *testing.T) {
	f := newFixture(t)
	var body map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.server.URL+"/v1/session", &body))
	assert.Equal(t, "no session", body["error"])
}

func TestProcess_URLRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	id := f.processURL(t)

	var snap session.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/v1/session", &snap))
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, session.StateComplete, snap.State)
	assert.Equal(t, 100, snap.Progress)
	assert.Len(t, snap.Clips, 3)

	var entry session.ClipEntry
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/v1/clips/0", &entry))
	assert.Equal(t, 0, entry.Index)
	assert.True(t, strings.HasPrefix(entry.MediaPath, "/output/"))

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.server.URL+"/v1/clips/7", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.server.URL+"/v1/clips/first", nil))
}

func TestProcess_Upload(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "clip.mp4")
	require.NoError(t, err)
	_, _ = part.Write([]byte("not really a video"))
	require.NoError(t, mw.WriteField("clipDuration", "15"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.server.URL+"/v1/process", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.app.Runner.Wait(ctx))

	snap := f.app.Runner.Current().Snapshot()
	assert.Equal(t, "upload:clip.mp4", snap.Source)
	assert.Equal(t, session.StateComplete, snap.State)
}

func multipartUpload(t *testing.T, field string, size int) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "clip.mp4")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("v"), size))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestProcess_UploadErrors(t *testing.T) {
	f := newFixture(t)
	h := &handlers{app: f.app, hub: f.hub, maxUpload: 1024}

	tests := []struct {
		name       string
		field      string
		size       int
		wantStatus int
		wantMsg    string
	}{
		{name: "too large", field: "file", size: 4096, wantStatus: http.StatusRequestEntityTooLarge, wantMsg: "request body too large"},
		{name: "wrong field", field: "video", size: 16, wantStatus: http.StatusBadRequest, wantMsg: "no file part"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tt.field, tt.size)
			req := httptest.NewRequest(http.MethodPost, "/v1/process", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			h.process(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			var e map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
			assert.Contains(t, e["error"], tt.wantMsg)
		})
	}
	assert.Nil(t, f.app.Runner.Current())
}

func TestProcess_BadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "missing url", body: `{"type":"url"}`},
		{name: "unknown type", body: `{"type":"ftp","url":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.server.URL+"/v1/process", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var e map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.NotEmpty(t, e["error"])
		})
	}
}

func TestOverlay_PNG(t *testing.T) {
	f := newFixture(t)
	f.processURL(t)

	resp, err := http.Get(f.server.URL + "/v1/clips/0/overlay?t=1.0&w=640&h=360")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 360, img.Bounds().Dy())

	// No native size given, so the car box at x=120 is drawn unscaled.
	_, _, _, a := img.At(120, 260).RGBA()
	assert.NotZero(t, a)
}

func TestOverlay_WebPAndValidation(t *testing.T) {
	f := newFixture(t)
	f.processURL(t)

	resp, err := http.Get(f.server.URL + "/v1/clips/1/overlay?t=3&w=320&h=180&mw=1280&mh=720&format=webp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))

	for _, q := range []string{"format=gif", "t=soon", "w=0", "w=10000"} {
		resp, err := http.Get(f.server.URL + "/v1/clips/0/overlay?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestResults_RoundTrip(t *testing.T) {
	f := newFixture(t)

	req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/v1/results/first", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	id := f.processURL(t)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var msg map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	resp.Body.Close()
	assert.Equal(t, "Result saved as first", msg["message"])

	var names []string
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/v1/results", &names))
	assert.Equal(t, []string{"first"}, names)

	var snap session.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/v1/results/first", &snap))
	assert.Equal(t, id, snap.ID)
	assert.Len(t, snap.Clips, 3)

	del, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/v1/results/first", nil)
	resp, err = http.DefaultClient.Do(del)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var e map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.server.URL+"/v1/results/first", &e))
	assert.Equal(t, "Result not found", e["error"])
}

func TestWebSocket_ReceivesSnapshots(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.processURL(t)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var states []session.State
	for {
		var snap session.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		states = append(states, snap.State)
		if snap.State.IsTerminal() {
			assert.Equal(t, session.StateComplete, snap.State)
			break
		}
	}
	assert.Equal(t, session.StateUploading, states[0])

	last, ok := f.hub.Last()
	require.True(t, ok)
	assert.Equal(t, session.StateComplete, last.State)
}

func TestWebSocket_LateJoinerGetsLastSnapshot(t *testing.T) {
	f := newFixture(t)
	f.processURL(t)
	require.Eventually(t, func() bool {
		last, ok := f.hub.Last()
		return ok && last.State == session.StateComplete
	}, 2*time.Second, 10*time.Millisecond)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var snap session.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, session.StateComplete, snap.State)
}
