package dispatcher

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/buffer"
	"github.com/panther-labs/panther/internal/engine"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/objectstore"
)

// PipelineNotification identifies one newly arrived event file (spec
// §4.H: "a list of object-store notifications identifying newly arrived
// event files").
type PipelineNotification struct {
	Bucket string `json:"s3Bucket"`
	Key    string `json:"s3ObjectKey"`
}

// PipelineEnvelope is the pipeline shape of spec §4.H.
type PipelineEnvelope struct {
	Notifications []PipelineNotification `json:"notifications"`
}

// PipelineOptions configure RunPipeline.
type PipelineOptions struct {
	Engine *engine.Engine
	Buffer *buffer.Buffer
	Getter objectstore.Getter
	Logger *slog.Logger
}

// RunPipeline implements the pipeline-envelope half of spec §4.H: for
// each notification it stream-reads newline-delimited JSON events,
// infers the log type from the object key, feeds every event through the
// Engine, and appends every EngineResult to the shared buffer. flush() is
// called once at the end of the whole invocation, not per notification,
// so that matches accumulated across files in the same invocation can
// still coalesce into one spill.
func RunPipeline(ctx context.Context, opts PipelineOptions, envelope PipelineEnvelope) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, n := range envelope.Notifications {
		if err := processNotification(ctx, opts, n); err != nil {
			return apperrors.Wrapf(err, apperrors.ErrCodeInternal, "process notification %s/%s", n.Bucket, n.Key)
		}
	}

	return opts.Buffer.Flush(ctx)
}

// processNotification reads one object end to end and runs every line it
// contains through the engine, adding every result to opts.Buffer.
func processNotification(ctx context.Context, opts PipelineOptions, n PipelineNotification) error {
	body, err := opts.Getter.Get(ctx, n.Bucket, n.Key)
	if err != nil {
		return err
	}
	defer body.Close()

	var src io.Reader = body
	if strings.HasSuffix(n.Key, ".gz") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return fmt.Errorf("open gzip reader for %s: %w", n.Key, err)
		}
		defer gz.Close()
		src = gz
	}

	logType := inferLogType(n.Key)

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event model.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("parse event line in %s: %w", n.Key, err)
		}

		for _, result := range opts.Engine.Analyze(ctx, logType, event) {
			if err := opts.Buffer.AddEvent(ctx, result); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// inferLogType derives a log type from an object key's path layout. Keys
// follow the upstream ingestion pipeline's "logs/{log_type}/..." layout;
// a key without that prefix falls back to its first path segment.
func inferLogType(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) == 0 {
		return ""
	}
	if parts[0] == "logs" && len(parts) > 1 {
		return parts[1]
	}
	return parts[0]
}
