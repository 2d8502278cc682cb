package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-insight-client/internal/observability/logging"
)

// HTTPConfig configures the HTTP source.
type HTTPConfig struct {
	BaseURL string
	// ResponseHeaderTimeout bounds the wait for the first byte; the stream itself has no deadline.
	ResponseHeaderTimeout time.Duration
	ProcessURLPath        string
	UploadPath            string
	ProcessPath           string
}

// DefaultHTTPConfig returns the routes the analysis service exposes.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:               baseURL,
		ResponseHeaderTimeout: 30 * time.Second,
		ProcessURLPath:        "/process_url",
		UploadPath:            "/upload",
		ProcessPath:           "/process",
	}
}

// HTTPSource talks to a running analysis service.
//
// URL requests are a single POST whose body is the stream. Uploads are two
// steps: the file is posted as multipart form data, then the stored filename
// is submitted for processing and that response is the stream.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPSource creates an HTTP source.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		// Compression would let the transport buffer the stream.
		DisableCompression: true,
	}
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logging.WithComponent("analysis-http"),
	}
}

// NewHTTPSourceWithClient uses the given client, for tests.
func NewHTTPSourceWithClient(cfg HTTPConfig, client *http.Client) *HTTPSource {
	return &HTTPSource{cfg: cfg, client: client, logger: logging.WithComponent("analysis-http")}
}

type processURLBody struct {
	URL            string `json:"url"`
	ClipDuration   int    `json:"clipDuration"`
	TargetLanguage string `json:"targetLanguage"`
}

type processFileBody struct {
	Filename       string `json:"filename"`
	ClipDuration   int    `json:"clipDuration"`
	TargetLanguage string `json:"targetLanguage"`
}

type uploadResponse struct {
	Filename string  `json:"filename"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

// Open implements Source.
func (s *HTTPSource) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	lang := req.TargetLanguage
	if lang == "" {
		lang = "en"
	}

	switch req.Type {
	case RequestUpload:
		stored, err := s.upload(ctx, req, lang)
		if err != nil {
			return nil, err
		}
		return s.postJSON(ctx, "process", s.cfg.ProcessPath, processFileBody{
			Filename:       stored,
			ClipDuration:   req.ClipDuration,
			TargetLanguage: lang,
		})
	default:
		return s.postJSON(ctx, "process_url", s.cfg.ProcessURLPath, processURLBody{
			URL:            req.URL,
			ClipDuration:   req.ClipDuration,
			TargetLanguage: lang,
		})
	}
}

func (s *HTTPSource) upload(ctx context.Context, req Request, lang string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", req.Filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.File); err != nil {
		return "", fmt.Errorf("read upload %s: %w", req.Filename, err)
	}
	_ = w.WriteField("clipDuration", strconv.Itoa(req.ClipDuration))
	_ = w.WriteField("targetLanguage", lang)
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url(s.cfg.UploadPath), &body)
	if err != nil {
		return "", &TransportError{Op: "upload", Err: err}
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	s.logger.Debug().Str("filename", req.Filename).Int("bytes", body.Len()).Msg("Uploading video")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", &TransportError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	var out uploadResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TransportError{Op: "upload", StatusCode: resp.StatusCode, Err: serviceError(out.Error, resp.Status)}
	}
	if decodeErr != nil {
		return "", &TransportError{Op: "upload", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode upload response: %w", decodeErr)}
	}
	if out.Filename == "" {
		return "", &TransportError{Op: "upload", StatusCode: resp.StatusCode, Err: errors.New("upload response has no filename")}
	}
	s.logger.Info().Str("stored", out.Filename).Float64("duration", out.Duration).Msg("Video uploaded")
	return out.Filename, nil
}

func (s *HTTPSource) postJSON(ctx context.Context, op, path string, payload any) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url(path), bytes.NewReader(data))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: serviceError(body.Error, resp.Status)}
	}
	s.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("Stream opened")
	return resp.Body, nil
}

func (s *HTTPSource) url(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + path
}

func serviceError(msg, fallback string) error {
	if msg != "" {
		return errors.New(msg)
	}
	return errors.New(fallback)
}
