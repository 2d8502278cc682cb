package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_StreamLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStreamStart()
	m.RecordStreamStart()
	if got := testutil.ToFloat64(m.StreamsActive); got != 2 {
		t.Errorf("expected 2 active streams, got %v", got)
	}

	m.RecordStreamEnd("complete", 3.5)
	m.RecordStreamEnd("superseded", 1)
	if got := testutil.ToFloat64(m.StreamsActive); got != 0 {
		t.Errorf("expected 0 active streams, got %v", got)
	}
	if got := testutil.ToFloat64(m.StreamsResult.WithLabelValues("complete")); got != 1 {
		t.Errorf("expected 1 complete stream, got %v", got)
	}
}

func TestMetrics_Records(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecoded("clip_ready")
	m.RecordDecoded("clip_ready")
	m.RecordDecodeError()
	m.RecordClip()
	m.RecordProgress(45)

	if got := testutil.ToFloat64(m.RecordsDecoded.WithLabelValues("clip_ready")); got != 2 {
		t.Errorf("expected 2 clip_ready records, got %v", got)
	}
	if got := testutil.ToFloat64(m.DecodeErrors); got != 1 {
		t.Errorf("expected 1 decode error, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionProgress); got != 45 {
		t.Errorf("expected progress 45, got %v", got)
	}
}

func TestMetrics_KafkaPublish(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKafkaPublish("clips", "clip_ready", nil, 0.01)
	m.RecordKafkaPublish("clips", "clip_ready", errors.New("broker down"), 0.2)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("clips", "clip_ready")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("clips", "clip_ready")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestMetrics_EventDropped(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEventDropped("clip_ready")
	m.RecordEventDropped("clip_ready")

	if got := testutil.ToFloat64(m.EventsDropped.WithLabelValues("clip_ready")); got != 2 {
		t.Errorf("expected 2 dropped events, got %v", got)
	}
}

func TestNewMetrics_Unregistered(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordRender(3, 0.001)

	if got := testutil.ToFloat64(m.DetectionsDrawn); got != 3 {
		t.Errorf("expected 3 detections drawn, got %v", got)
	}
}

func TestMetrics_Requests(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordHTTPRequest("/v1/session", 200, 0.01)
	m.RecordHTTPRequest("/v1/session", 200, 0.02)
	m.RecordRPC("/grpc.health.v1.Health/Check", "OK", 0.001)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/session", "200")); got != 2 {
		t.Errorf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.RPCTotal.WithLabelValues("/grpc.health.v1.Health/Check", "OK")); got != 1 {
		t.Errorf("expected 1 rpc, got %v", got)
	}
}
