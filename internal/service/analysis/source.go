// Package analysis opens the NDJSON status stream of the video analysis service.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RequestType selects how the video reaches the service.
type RequestType string

const (
	// RequestURL asks the service to download the video itself.
	RequestURL RequestType = "url"
	// RequestUpload sends the video bytes with the request.
	RequestUpload RequestType = "upload"
)

// Request describes one processing request.
type Request struct {
	Type           RequestType
	URL            string
	Filename       string
	File           io.Reader
	ClipDuration   int
	TargetLanguage string
}

// ErrInvalidRequest is returned for requests that cannot be sent.
var ErrInvalidRequest = errors.New("invalid process request")

// Validate checks that the request carries what its type needs.
func (r Request) Validate() error {
	switch r.Type {
	case RequestURL:
		if strings.TrimSpace(r.URL) == "" {
			return fmt.Errorf("%w: url is required", ErrInvalidRequest)
		}
	case RequestUpload:
		if r.File == nil || r.Filename == "" {
			return fmt.Errorf("%w: upload needs a file and a filename", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, r.Type)
	}
	if r.ClipDuration <= 0 {
		return fmt.Errorf("%w: clip duration must be positive", ErrInvalidRequest)
	}
	return nil
}

// Describe returns a short human-readable label for logs and snapshots.
func (r Request) Describe() string {
	if r.Type == RequestUpload {
		return "upload:" + r.Filename
	}
	return r.URL
}

// Source opens the response body of a processing request.
// The caller owns the returned reader and must close it.
type Source interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// ErrStreamTruncated marks a stream that ended before a terminal status arrived.
var ErrStreamTruncated = errors.New("stream ended before completion")

// TransportError is a failure to reach the service or to read its stream.
// StatusCode is zero when no HTTP response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
