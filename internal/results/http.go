package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPStore keeps results on the analysis service through its saved-result routes.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store against baseURL.
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type saveRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

func (s *HTTPStore) Save(ctx context.Context, name string, data json.RawMessage) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	body, err := json.Marshal(saveRequest{Name: name, Data: data})
	if err != nil {
		return fmt.Errorf("marshal save request: %w", err)
	}
	resp, err := s.do(ctx, http.MethodPost, "/save_result", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (s *HTTPStore) List(ctx context.Context) ([]string, error) {
	resp, err := s.do(ctx, http.MethodGet, "/list_saved_results", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, fmt.Errorf("decode saved result list: %w", err)
	}
	return names, nil
}

func (s *HTTPStore) Load(ctx context.Context, name string) (json.RawMessage, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, http.MethodGet, "/load_result/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read saved result %s: %w", name, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("saved result %s is not valid JSON", name)
	}
	return json.RawMessage(data), nil
}

func (s *HTTPStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodDelete, "/delete_result/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}
	return resp, nil
}
