// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	Analysis      AnalysisConfig
	Session       SessionConfig
	Viewer        ViewerConfig
	Kafka         KafkaConfig
	Results       ResultsConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the service and its listeners.
type ServiceConfig struct {
	Principal       string        `yaml:"principal"`
	HTTPPort        string        `yaml:"http_port"`
	GRPCPort        string        `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AnalysisConfig selects and configures the analysis stream source.
type AnalysisConfig struct {
	Provider              string        `yaml:"provider"` // "mock" or "http"
	BaseURL               string        `yaml:"base_url"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	ClipDuration          int           `yaml:"clip_duration"`
	TargetLanguage        string        `yaml:"target_language"`
	MockChunkSize         int           `yaml:"mock_chunk_size"`
	MockDelay             time.Duration `yaml:"mock_delay"`
}

// SessionConfig controls stream consumption and progress.
type SessionConfig struct {
	ProgressStep        int           `yaml:"progress_step"`
	ProgressCap         int           `yaml:"progress_cap"`
	FlushTrailingRecord bool          `yaml:"flush_trailing_record"`
	ReadBufferSize      int           `yaml:"read_buffer_size"`
	MaxRecordBytes      int           `yaml:"max_record_bytes"`
	MaxDuration         time.Duration `yaml:"max_duration"`
}

// ViewerConfig sets the defaults for server-side overlay frames.
type ViewerConfig struct {
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	NativeWidth  int    `yaml:"native_width"`
	NativeHeight int    `yaml:"native_height"`
	FrameFormat  string `yaml:"frame_format"` // "png" or "webp"
}

// KafkaConfig configures downstream event publishing.
type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	TopicClips  string   `yaml:"topic_clips"`
	TopicStatus string   `yaml:"topic_status"`
	Principal   string   `yaml:"principal"`
}

// ResultsConfig selects where saved results live.
// Backend "http" uses the analysis service, "redis" a Redis server, anything else process memory.
type ResultsConfig struct {
	Backend  string        `yaml:"backend"`
	BaseURL  string        `yaml:"base_url"`
	RedisURL string        `yaml:"redis_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort string `yaml:"metrics_port"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:       "svc-video-insight",
			HTTPPort:        "8080",
			GRPCPort:        "50051",
			ShutdownTimeout: 10 * time.Second,
		},
		Analysis: AnalysisConfig{
			Provider:              "mock",
			BaseURL:               "http://localhost:5000",
			ResponseHeaderTimeout: 30 * time.Second,
			ClipDuration:          30,
			TargetLanguage:        "en",
			MockChunkSize:         48,
			MockDelay:             20 * time.Millisecond,
		},
		Session: SessionConfig{
			ProgressStep:        5,
			ProgressCap:         95,
			FlushTrailingRecord: true,
			ReadBufferSize:      32 * 1024,
			MaxRecordBytes:      16 * 1024 * 1024,
			MaxDuration:         2 * time.Hour,
		},
		Viewer: ViewerConfig{
			Width:       1280,
			Height:      720,
			FrameFormat: "png",
		},
		Kafka: KafkaConfig{
			TopicClips:  "video.analysis.clips",
			TopicStatus: "video.analysis.status",
		},
		Results: ResultsConfig{
			Backend:  "memory",
			RedisURL: "localhost:6379",
			Timeout:  10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: "9090",
		},
	}
}

// Load returns the defaults overridden by environment variables.
func Load() *Configuration {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies environment overrides.
// A missing file is not an error.
func LoadFile(path string) (*Configuration, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Configuration) {
	s := &cfg.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.ShutdownTimeout = envOrDefaultDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	a := &cfg.Analysis
	a.Provider = envOrDefault("ANALYSIS_PROVIDER", a.Provider)
	a.BaseURL = envOrDefault("ANALYSIS_BASE_URL", a.BaseURL)
	a.ResponseHeaderTimeout = envOrDefaultDuration("ANALYSIS_RESPONSE_HEADER_TIMEOUT", a.ResponseHeaderTimeout)
	a.ClipDuration = envOrDefaultInt("ANALYSIS_CLIP_DURATION", a.ClipDuration)
	a.TargetLanguage = envOrDefault("ANALYSIS_TARGET_LANGUAGE", a.TargetLanguage)
	a.MockChunkSize = envOrDefaultInt("ANALYSIS_MOCK_CHUNK_SIZE", a.MockChunkSize)
	a.MockDelay = envOrDefaultDuration("ANALYSIS_MOCK_DELAY", a.MockDelay)

	ss := &cfg.Session
	ss.ProgressStep = envOrDefaultInt("SESSION_PROGRESS_STEP", ss.ProgressStep)
	ss.ProgressCap = envOrDefaultInt("SESSION_PROGRESS_CAP", ss.ProgressCap)
	ss.FlushTrailingRecord = envOrDefaultBool("SESSION_FLUSH_TRAILING_RECORD", ss.FlushTrailingRecord)
	ss.ReadBufferSize = envOrDefaultInt("SESSION_READ_BUFFER_SIZE", ss.ReadBufferSize)
	ss.MaxRecordBytes = envOrDefaultInt("SESSION_MAX_RECORD_BYTES", ss.MaxRecordBytes)
	ss.MaxDuration = envOrDefaultDuration("SESSION_MAX_DURATION", ss.MaxDuration)

	v := &cfg.Viewer
	v.Width = envOrDefaultInt("VIEWER_WIDTH", v.Width)
	v.Height = envOrDefaultInt("VIEWER_HEIGHT", v.Height)
	v.NativeWidth = envOrDefaultInt("VIEWER_NATIVE_WIDTH", v.NativeWidth)
	v.NativeHeight = envOrDefaultInt("VIEWER_NATIVE_HEIGHT", v.NativeHeight)
	v.FrameFormat = envOrDefault("VIEWER_FRAME_FORMAT", v.FrameFormat)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	k.Brokers = envOrDefaultList("KAFKA_BROKERS", k.Brokers)
	k.TopicClips = envOrDefault("KAFKA_TOPIC_CLIPS", k.TopicClips)
	k.TopicStatus = envOrDefault("KAFKA_TOPIC_STATUS", k.TopicStatus)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	r := &cfg.Results
	r.Backend = envOrDefault("RESULTS_BACKEND", r.Backend)
	r.BaseURL = envOrDefault("RESULTS_BASE_URL", r.BaseURL)
	r.RedisURL = envOrDefault("RESULTS_REDIS_URL", r.RedisURL)
	r.Timeout = envOrDefaultDuration("RESULTS_TIMEOUT", r.Timeout)
	if r.BaseURL == "" {
		r.BaseURL = a.BaseURL
	}

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
	o.MetricsPort = envOrDefault("METRICS_PORT", o.MetricsPort)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
