// Package http exposes the viewer API: session state, live pushes, overlay frames and saved results.
package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"video-insight-client/internal/app"
	"video-insight-client/internal/overlay"
	"video-insight-client/internal/results"
	"video-insight-client/internal/service/analysis"
	"video-insight-client/internal/service/session"
	"video-insight-client/internal/viewer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxUploadBytes = 512 << 20
	maxFrameSide   = 4096
)

type handlers struct {
	app       *app.Application
	hub       *Hub
	maxUpload int64
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, hub *Hub) http.Handler {
	h := &handlers{app: application, hub: hub, maxUpload: maxUploadBytes}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.measure)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if err := application.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/process", h.process)
		r.Get("/session", h.session)
		r.Get("/ws", hub.ServeWS)
		r.Get("/clips/{index}", h.clip)
		r.Get("/clips/{index}/overlay", h.overlay)

		r.Get("/results", h.listResults)
		r.Post("/results/{name}", h.saveResult)
		r.Get("/results/{name}", h.loadResult)
		r.Delete("/results/{name}", h.deleteResult)
	})

	return r
}

// measure records request count and latency by route pattern.
func (h *handlers) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.app.Metrics.RecordHTTPRequest(route, status, time.Since(start).Seconds())
	})
}

type processRequest struct {
	Type           analysis.RequestType `json:"type"`
	URL            string               `json:"url"`
	ClipDuration   int                  `json:"clipDuration"`
	TargetLanguage string               `json:"targetLanguage"`
}

type processResponse struct {
	SessionID string        `json:"sessionId"`
	State     session.State `json:"state"`
}

func (h *handlers) process(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeProcess(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}
	sess, err := h.app.Process(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, analysis.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, processResponse{SessionID: sess.ID(), State: sess.State()})
}

// decodeProcess reads a JSON URL request or a multipart upload with a "file" part.
// Upload bytes are buffered because the stream outlives this request.
func (h *handlers) decodeProcess(w http.ResponseWriter, r *http.Request) (analysis.Request, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return analysis.Request{}, fmt.Errorf("upload exceeds %d bytes: %w", tooLarge.Limit, err)
			}
			return analysis.Request{}, fmt.Errorf("no file part: %w", err)
		}
		defer file.Close()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, file); err != nil {
			return analysis.Request{}, fmt.Errorf("read upload: %w", err)
		}
		clip, _ := strconv.Atoi(r.FormValue("clipDuration"))
		return analysis.Request{
			Type:           analysis.RequestUpload,
			Filename:       header.Filename,
			File:           &buf,
			ClipDuration:   clip,
			TargetLanguage: r.FormValue("targetLanguage"),
		}, nil
	}

	var body processRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return analysis.Request{}, errors.New("invalid JSON body")
	}
	if body.Type == "" {
		body.Type = analysis.RequestURL
	}
	return analysis.Request{
		Type:           body.Type,
		URL:            body.URL,
		ClipDuration:   body.ClipDuration,
		TargetLanguage: body.TargetLanguage,
	}, nil
}

func (h *handlers) session(w http.ResponseWriter, _ *http.Request) {
	sess := h.app.Runner.Current()
	if sess == nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *handlers) clipEntry(w http.ResponseWriter, r *http.Request) (session.ClipEntry, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "clip index must be an integer")
		return session.ClipEntry{}, false
	}
	sess := h.app.Runner.Current()
	if sess == nil {
		writeError(w, http.StatusNotFound, "no session")
		return session.ClipEntry{}, false
	}
	entry, ok := sess.Clip(index)
	if !ok {
		writeError(w, http.StatusNotFound, "clip not found")
		return session.ClipEntry{}, false
	}
	return entry, true
}

func (h *handlers) clip(w http.ResponseWriter, r *http.Request) {
	if entry, ok := h.clipEntry(w, r); ok {
		writeJSON(w, http.StatusOK, entry)
	}
}

// overlay renders the clip's detections at ?t= on a w×h frame.
// mw and mh give the media's native size; without them the viewer default applies.
func (h *handlers) overlay(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.clipEntry(w, r)
	if !ok {
		return
	}

	vc := h.app.Cfg.Viewer
	q := r.URL.Query()
	t, err := queryFloat(q.Get("t"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "t must be a number")
		return
	}
	req := viewer.FrameRequest{
		Width:        queryInt(q.Get("w"), vc.Width),
		Height:       queryInt(q.Get("h"), vc.Height),
		NativeWidth:  queryInt(q.Get("mw"), vc.NativeWidth),
		NativeHeight: queryInt(q.Get("mh"), vc.NativeHeight),
		Time:         t,
	}
	if req.Width <= 0 || req.Height <= 0 || req.Width > maxFrameSide || req.Height > maxFrameSide {
		writeError(w, http.StatusBadRequest, "frame size out of range")
		return
	}
	format := q.Get("format")
	if format == "" {
		format = vc.FrameFormat
	}
	if format != overlay.FormatPNG && format != overlay.FormatWebP {
		writeError(w, http.StatusBadRequest, "format must be png or webp")
		return
	}

	img := viewer.RenderFrame(h.app.Renderer, entry.Clip.Detections(), req, h.app.Metrics)
	var buf bytes.Buffer
	if err := img.Encode(&buf, format); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", overlay.ContentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *handlers) listResults(w http.ResponseWriter, r *http.Request) {
	names, err := h.app.Results.List(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// saveResult stores the current session snapshot under name.
func (h *handlers) saveResult(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sess := h.app.Runner.Current()
	if sess == nil {
		writeError(w, http.StatusConflict, "no session to save")
		return
	}
	data, err := json.Marshal(sess.Snapshot())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.app.Results.Save(r.Context(), name, data); err != nil {
		writeResultsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Result saved as " + name})
}

func (h *handlers) loadResult(w http.ResponseWriter, r *http.Request) {
	data, err := h.app.Results.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeResultsError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handlers) deleteResult(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.app.Results.Delete(r.Context(), name); err != nil {
		writeResultsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Result " + name + " deleted"})
}

func writeResultsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, results.ErrNotFound):
		writeError(w, http.StatusNotFound, "Result not found")
	case errors.Is(err, results.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(v string, def float64) (float64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}
