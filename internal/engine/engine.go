// Package engine dispatches a single event to every rule registered for
// its log type and produces structured results (spec §4.E).
package engine

import (
	"context"
	"log/slog"

	"github.com/panther-labs/panther/internal/eventview"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/registry"
	"github.com/panther-labs/panther/internal/rule"
)

// Result is produced per (rule, event) that matched or errored; a
// non-matching rule produces nothing (spec §3 "EngineResult").
type Result struct {
	RuleID          string
	RuleVersion     string
	RuleTags        []string
	RuleReports     map[string][]string
	Severity        string
	LogType         string
	Dedup           string
	DedupPeriodMins int
	Event           *eventview.View
	Title           *string
	AlertContext    map[string]any
	ErrorMessage    *string
}

// Matched reports whether this result represents a successful rule match
// rather than an error path.
func (r Result) Matched() bool {
	return r.ErrorMessage == nil
}

// Options configure an Engine.
type Options struct {
	Registry *registry.Registry
	Logger   *slog.Logger
}

// Engine evaluates events against the registry's currently active rule
// and data-model sets.
type Engine struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New constructs an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: opts.Registry, logger: logger}
}

// Analyze implements spec §4.E: it refreshes the registry if stale, binds
// the event to its log type's data model, runs every applicable rule in
// registration order, and returns one Result per match or error.
func (e *Engine) Analyze(ctx context.Context, logType string, event model.Event) []Result {
	if err := e.registry.EnsureFresh(ctx); err != nil {
		e.logger.WarnContext(ctx, "registry refresh failed, analyzing against previous index", "log_type", logType, "err", err)
	}

	dataModel := e.registry.DataModelFor(logType)
	view := eventview.New(event, dataModel)
	rules := e.registry.RulesFor(logType)

	results := make([]Result, 0, len(rules))
	for _, compiled := range rules {
		outcome := compiled.Run(view)

		switch {
		case outcome.Err != nil:
			errMsg := outcome.Err.Error()
			results = append(results, Result{
				RuleID:          compiled.ID,
				RuleVersion:     compiled.VersionID,
				RuleTags:        compiled.Tags,
				RuleReports:     compiled.Reports,
				Severity:        compiled.Severity,
				LogType:         logType,
				Dedup:           outcome.ExceptionName,
				DedupPeriodMins: rule.ErrorDedupPeriodMinutes,
				Event:           view,
				Title:           outcome.Title,
				ErrorMessage:    &errMsg,
			})
		case outcome.Matched:
			results = append(results, Result{
				RuleID:          compiled.ID,
				RuleVersion:     compiled.VersionID,
				RuleTags:        compiled.Tags,
				RuleReports:     compiled.Reports,
				Severity:        compiled.Severity,
				LogType:         logType,
				Dedup:           outcome.Dedup,
				DedupPeriodMins: compiled.DedupPeriodMinutes,
				Event:           view,
				Title:           outcome.Title,
				AlertContext:    outcome.AlertContext,
			})
		}
		// Non-match: emit nothing, per spec §4.E step 3.
	}

	return results
}
