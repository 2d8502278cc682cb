// Replay client - offline rendition of an analysis session.
// Streams an NDJSON capture (or the mock service) through the pipeline in small
// chunks, then plays every clip on a virtual player and writes overlay frames.
// With -tail it instead renders clips as they arrive on the Kafka clips topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"video-insight-client/internal/models"
	"video-insight-client/internal/observability/logging"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/overlay"
	"video-insight-client/internal/service/analysis"
	"video-insight-client/internal/service/analysis/mock"
	"video-insight-client/internal/service/pipeline"
	"video-insight-client/internal/service/session"
	"video-insight-client/internal/viewer"
)

type options struct {
	file    string
	out     string
	chunk   int
	fps     float64
	format  string
	frame   viewer.FrameRequest
	brokers string
	topic   string
}

func main() {
	var o options
	flag.StringVar(&o.file, "file", "", "NDJSON capture to replay (default: mock service)")
	flag.StringVar(&o.out, "out", "", "Output directory (default: replay-<uuid>)")
	flag.IntVar(&o.chunk, "chunk", 64, "Bytes delivered per read, to simulate network arrival")
	flag.Float64Var(&o.fps, "fps", 4, "Frames rendered per second of clip time")
	flag.StringVar(&o.format, "format", overlay.FormatPNG, "Frame format: png or webp")
	flag.IntVar(&o.frame.Width, "w", 640, "Frame width")
	flag.IntVar(&o.frame.Height, "h", 360, "Frame height")
	flag.IntVar(&o.frame.NativeWidth, "mw", 1280, "Native media width, 0 if unknown")
	flag.IntVar(&o.frame.NativeHeight, "mh", 720, "Native media height, 0 if unknown")
	flag.StringVar(&o.brokers, "brokers", "", "Kafka brokers for -tail, comma separated")
	flag.StringVar(&o.topic, "topic", "video.analysis.clips", "Kafka clips topic for -tail")
	tail := flag.Bool("tail", false, "Render clip events from Kafka instead of replaying a stream")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console", TimeFormat: time.RFC3339})

	if o.out == "" {
		o.out = "replay-" + uuid.NewString()
	}
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	if *tail {
		err = tailKafka(ctx, o)
	} else {
		err = replay(ctx, o)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Replay failed")
	}
	log.Info().Str("out", o.out).Msg("Replay finished")
}

// chunkReader hands out at most size bytes per Read.
type chunkReader struct {
	r    io.Reader
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}

func replay(ctx context.Context, o options) error {
	var (
		body   io.ReadCloser
		source string
		err    error
	)
	if o.file != "" {
		body, err = os.Open(o.file)
		source = o.file
	} else {
		src := mock.New()
		src.Delay = 0
		req := analysis.Request{Type: analysis.RequestURL, URL: "mock://replay", ClipDuration: 10, TargetLanguage: "en"}
		body, err = src.Open(ctx, req)
		source = req.Describe()
	}
	if err != nil {
		return err
	}
	defer body.Close()

	m := metrics.DefaultMetrics
	runner := pipeline.NewRunner(nil, nil, pipeline.DefaultOptions(), m)
	sess := session.New(session.Config{Metrics: m})
	sess.Subscribe(func(s session.Snapshot) {
		log.Info().
			Stringer("state", s.State).
			Int("progress", s.Progress).
			Int("clips", len(s.Clips)).
			Msg(s.Message)
	})
	if err := sess.Begin(source); err != nil {
		return err
	}

	chunk := max(o.chunk, 1)
	consumeErr := runner.Consume(ctx, sess, &chunkReader{r: body, size: chunk})

	snap := sess.Snapshot()
	renderer := overlay.NewRenderer(overlay.DefaultStyle(), m)
	for _, entry := range snap.Clips {
		if err := renderClip(renderer, o, snap.ID, entry.Index, entry.Clip, m); err != nil {
			return err
		}
	}
	if err := writeJSON(filepath.Join(o.out, "session.json"), snap); err != nil {
		return err
	}
	return consumeErr
}

func renderClip(r *overlay.Renderer, o options, sessionID string, index int, clip models.Clip, m *metrics.Metrics) error {
	dir := filepath.Join(o.out, fmt.Sprintf("clip-%03d", index))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	logger := logging.WithClip(sessionID, clip.Filename, index)

	frames := 0
	err := viewer.Play(r, clip.Detections(), o.frame, o.fps, m, func(i int, _ float64, img *overlay.ImageSurface) error {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame-%05d.%s", i, o.format)))
		if err != nil {
			return err
		}
		defer f.Close()
		frames++
		return img.Encode(f, o.format)
	})
	if err != nil {
		return fmt.Errorf("render clip %d: %w", index, err)
	}
	logger.Info().Int("frames", frames).Str("dir", dir).Msg("Clip rendered")
	return nil
}

// tailKafka renders every clip event published by the viewer daemon.
func tailKafka(ctx context.Context, o options) error {
	if o.brokers == "" {
		return fmt.Errorf("-tail needs -brokers")
	}
	// Partition reader without a consumer group, like a local debugging tool.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(o.brokers, ","),
		Topic:     o.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		return err
	}
	log.Info().Str("topic", o.topic).Msg("Consuming clip events (last hour)")

	m := metrics.DefaultMetrics
	renderer := overlay.NewRenderer(overlay.DefaultStyle(), m)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka read on %s: %w", o.topic, err)
		}
		var ev models.ClipEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable clip event")
			continue
		}
		dir, err := sessionDir(o.out, ev.SessionId)
		if err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping clip event")
			continue
		}
		sub := o
		sub.out = dir
		if err := renderClip(renderer, sub, ev.SessionId, ev.ClipIndex, ev.Clip, m); err != nil {
			return err
		}
	}
}

// sessionDir places a session's frames under out. The id comes off the wire,
// so only a canonical UUID is accepted as a directory name.
func sessionDir(out, sessionID string) (string, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil || id.String() != sessionID {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(out, sessionID), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
