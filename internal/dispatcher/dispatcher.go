package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/buffer"
	"github.com/panther-labs/panther/internal/engine"
	"github.com/panther-labs/panther/internal/objectstore"
)

// envelope is the union of both wire shapes; Dispatch decides which one
// it received by the fields that are present (spec §4.H: "Handles two
// envelope shapes on the same entry point").
type envelope struct {
	Rules         []DirectTestRuleSpec    `json:"rules,omitempty"`
	Events        []DirectTestEventSpec   `json:"events,omitempty"`
	GlobalsRuleID string                  `json:"globalsRuleId,omitempty"`
	Notifications []PipelineNotification  `json:"notifications,omitempty"`
}

// Options configure a Dispatcher.
type Options struct {
	Engine *engine.Engine
	Buffer *buffer.Buffer
	Getter objectstore.Getter
	Logger *slog.Logger
}

// Dispatcher is the process's single invocation entry point.
type Dispatcher struct {
	engine *engine.Engine
	buffer *buffer.Buffer
	getter objectstore.Getter
	logger *slog.Logger
}

// New constructs a Dispatcher.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		engine: opts.Engine,
		buffer: opts.Buffer,
		getter: opts.Getter,
		logger: logger,
	}
}

// Dispatch decodes raw and routes it to the direct-test or pipeline path.
// A non-empty "rules" field selects direct-test mode, in which case the
// per-event results are returned directly; otherwise the notifications
// are run through the pipeline path and Dispatch returns nil results,
// since that path's output is the side effect of buffered sink writes.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) ([]DirectTestEventResult, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.Validationf("dispatch: invalid envelope: %v", err)
	}

	if len(env.Rules) > 0 {
		results := RunDirectTest(DirectTestEnvelope{
			Rules:         env.Rules,
			Events:        env.Events,
			GlobalsRuleID: env.GlobalsRuleID,
		})
		return results, nil
	}

	err := RunPipeline(ctx, PipelineOptions{
		Engine: d.engine,
		Buffer: d.buffer,
		Getter: d.getter,
		Logger: d.logger,
	}, PipelineEnvelope{Notifications: env.Notifications})
	return nil, err
}
