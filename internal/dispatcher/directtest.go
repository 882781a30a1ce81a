// Package dispatcher is the single invocation entry point: it tells apart
// the two envelope shapes the caller may send and routes each to the
// right internal component (spec §4.H).
package dispatcher

import (
	"github.com/panther-labs/panther/internal/eventview"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/registry"
	"github.com/panther-labs/panther/internal/rule"
)

// DirectTestRuleSpec is one rule under test, as supplied inline by the
// caller rather than fetched from the catalog.
type DirectTestRuleSpec struct {
	ID                 string              `json:"id"`
	Body               string              `json:"body"`
	LogTypes           []string            `json:"logTypes,omitempty"`
	Severity           string              `json:"severity,omitempty"`
	DedupPeriodMinutes int                 `json:"dedupPeriodMinutes,omitempty"`
	Tags               []string            `json:"tags,omitempty"`
	Reports            map[string][]string `json:"reports,omitempty"`
}

// DirectTestEventSpec is one event under test, tagged with a caller-chosen
// id so results can be correlated back to it.
type DirectTestEventSpec struct {
	ID   string     `json:"id"`
	Data model.Event `json:"data"`
}

// DirectTestEnvelope is the direct-test shape of spec §4.H: a set of
// rules and a set of events, every rule run against every event.
type DirectTestEnvelope struct {
	Rules         []DirectTestRuleSpec  `json:"rules"`
	Events        []DirectTestEventSpec `json:"events"`
	GlobalsRuleID string                `json:"globalsRuleId,omitempty"`
}

// DirectTestEventResult reports one (event, rule) outcome. Every entry
// point's failure is surfaced individually rather than defaulted, per
// rule.DirectTestResult.
type DirectTestEventResult struct {
	ID     string `json:"id"`
	RuleID string `json:"ruleId"`

	RuleOutput *bool  `json:"ruleOutput,omitempty"`
	RuleError  string `json:"ruleError,omitempty"`

	DedupOutput *string `json:"dedupOutput,omitempty"`
	DedupError  string  `json:"dedupError,omitempty"`

	TitleOutput *string `json:"titleOutput,omitempty"`
	TitleError  string  `json:"titleError,omitempty"`

	AlertContextOutput map[string]any `json:"alertContextOutput,omitempty"`
	AlertContextError  string         `json:"alertContextError,omitempty"`

	Errored      bool   `json:"errored"`
	GenericError string `json:"genericError,omitempty"`
}

// RunDirectTest compiles the supplied rules in-process and runs each
// event through each rule. It never touches the merger, buffer, or sink
// (spec §4.H: "This mode does NOT touch the merger, buffer, or sink").
// A rule that fails to compile reports a GenericError for every event
// rather than being silently skipped, since a direct test exists
// specifically to surface authoring mistakes to the caller.
func RunDirectTest(envelope DirectTestEnvelope) []DirectTestEventResult {
	globalsID := envelope.GlobalsRuleID
	if globalsID == "" {
		globalsID = registry.DefaultGlobalsRuleID
	}

	var preamble string
	for _, r := range envelope.Rules {
		if r.ID == globalsID {
			preamble = r.Body
			break
		}
	}

	var results []DirectTestEventResult
	compiled := make([]*rule.Rule, 0, len(envelope.Rules))
	for _, spec := range envelope.Rules {
		if spec.ID == globalsID {
			// The globals rule is a preamble source, never a rule run
			// against events in its own right.
			continue
		}
		compiledRule, err := rule.Compile(model.RuleSpec{
			ID:                 spec.ID,
			Body:               spec.Body,
			LogTypes:           spec.LogTypes,
			Severity:           spec.Severity,
			DedupPeriodMinutes: spec.DedupPeriodMinutes,
			Tags:               spec.Tags,
			Reports:            spec.Reports,
			Enabled:            true,
		}, preamble)
		if err != nil {
			for _, ev := range envelope.Events {
				results = append(results, DirectTestEventResult{
					ID:           ev.ID,
					RuleID:       spec.ID,
					Errored:      true,
					GenericError: err.Error(),
				})
			}
			continue
		}
		compiled = append(compiled, compiledRule)
	}

	for _, ev := range envelope.Events {
		view := eventview.New(ev.Data, nil)
		for _, compiledRule := range compiled {
			out := compiledRule.RunDirectTest(view)
			results = append(results, DirectTestEventResult{
				ID:                 ev.ID,
				RuleID:             out.RuleID,
				RuleOutput:         out.RuleOutput,
				RuleError:          out.RuleError,
				DedupOutput:        out.DedupOutput,
				DedupError:         out.DedupError,
				TitleOutput:        out.TitleOutput,
				TitleError:         out.TitleError,
				AlertContextOutput: out.AlertContextOutput,
				AlertContextError:  out.AlertContextError,
				Errored:            out.Errored,
			})
		}
	}

	return results
}
