// Package rule compiles a catalog RuleSpec into an executable Rule and
// implements its invocation contract (spec §4.C).
package rule

import (
	"strings"

	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/eventview"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/obsclassify"
	"github.com/panther-labs/panther/internal/scripting"
)

const (
	// DefaultDedupPeriodMinutes is used when a rule spec omits
	// dedupPeriodMinutes or supplies a non-positive value.
	DefaultDedupPeriodMinutes = 60
	// ErrorDedupPeriodMinutes is the dedup period assigned to an
	// EngineResult produced from a rule error.
	ErrorDedupPeriodMinutes = 1440
	// MaxDedupStringSize bounds a returned dedup string.
	MaxDedupStringSize = 1000
	// MaxTitleSize bounds a returned title string.
	MaxTitleSize = 1000
	// TruncatedStringSuffix is appended to a string truncated to its max size.
	TruncatedStringSuffix = "... (truncated)"
)

const (
	entryRule         = "rule"
	entryDedup        = "dedup"
	entryTitle        = "title"
	entryAlertContext = "alert_context"
)

// Rule is a compiled detection rule, ready to run against event views.
type Rule struct {
	ID                 string
	VersionID          string
	LogTypes           []string
	Severity           string
	OutputIDs          []string
	Tags               []string
	Reports            map[string][]string
	DedupPeriodMinutes int

	program *scripting.Program
}

// Compile validates spec and compiles its body (spec §4.C). globalsPreamble
// is the raw source of the designated globals rule, prepended before
// compilation. rule() is mandatory; dedup/title/alert_context are optional.
func Compile(spec model.RuleSpec, globalsPreamble string) (*Rule, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, apperrors.Validationf("rule: id is required")
	}
	if strings.TrimSpace(spec.Body) == "" {
		return nil, apperrors.Validationf("rule %q: body is required", spec.ID)
	}

	program, err := scripting.Compile(spec.ID, globalsPreamble, spec.Body)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeCompile, "rule %q", spec.ID)
	}
	if !program.Has(entryRule) {
		return nil, apperrors.CompileErrorf("rule %q: missing required rule() entry point", spec.ID)
	}

	dedupPeriod := spec.DedupPeriodMinutes
	if dedupPeriod <= 0 {
		dedupPeriod = DefaultDedupPeriodMinutes
	}

	return &Rule{
		ID:                 spec.ID,
		VersionID:          spec.VersionID,
		LogTypes:           spec.LogTypes,
		Severity:           spec.Severity,
		OutputIDs:          spec.OutputIDs,
		Tags:               spec.Tags,
		Reports:            spec.Reports,
		DedupPeriodMinutes: dedupPeriod,
		program:            program,
	}, nil
}

// Result is the outcome of running a rule against one event in batch
// (pipeline) mode.
type Result struct {
	Matched      bool
	Dedup        string
	Title        *string
	AlertContext map[string]any

	// Err is non-nil when the rule() entry point itself raised or
	// returned a non-boolean. ExceptionName is the best-effort
	// exception-class-equivalent name used as the error-path dedup
	// string (spec §4.E: dedup = type_name(exception)).
	Err           error
	ExceptionName string
}

// Run implements the batch-mode invocation contract: dedup/title
// failures are defaulted rather than propagated (spec §4.C steps 2a-2c).
func (r *Rule) Run(view *eventview.View) Result {
	matched, _, err := r.program.CallBool(entryRule, view)
	if err != nil {
		return errResult(err)
	}
	if !matched {
		return Result{}
	}

	res := Result{Matched: true}

	if r.program.Has(entryDedup) {
		s, _, dedupErr := r.program.CallString(entryDedup, view)
		if dedupErr != nil || strings.TrimSpace(s) == "" {
			res.Dedup = defaultDedupString(r.ID)
		} else {
			res.Dedup = truncate(s, MaxDedupStringSize)
		}
	} else {
		res.Dedup = defaultDedupString(r.ID)
	}

	if r.program.Has(entryTitle) {
		s, _, titleErr := r.program.CallString(entryTitle, view)
		if titleErr == nil {
			truncated := truncate(s, MaxTitleSize)
			res.Title = &truncated
		}
	}

	if r.program.Has(entryAlertContext) {
		m, _, actxErr := r.program.CallMap(entryAlertContext, view)
		if actxErr == nil {
			res.AlertContext = m
		}
	}

	return res
}

// DirectTestResult is the outcome of running a rule against one event in
// direct-test mode, where every entry point's failure is surfaced rather
// than defaulted (spec §4.C, §4.H).
type DirectTestResult struct {
	RuleID string

	RuleOutput *bool
	RuleError  string

	DedupOutput *string
	DedupError  string

	TitleOutput *string
	TitleError  string

	AlertContextOutput map[string]any
	AlertContextError  string

	Errored      bool
	GenericError string
}

// RunDirectTest implements the direct-test invocation policy: any
// exception in dedup/title/alert_context is reported as a failure rather
// than silently defaulted (spec §4.C "Direct-test mode").
func (r *Rule) RunDirectTest(view *eventview.View) DirectTestResult {
	out := DirectTestResult{RuleID: r.ID}

	matched, _, err := r.program.CallBool(entryRule, view)
	if err != nil {
		out.Errored = true
		out.RuleError = err.Error()
		return out
	}
	out.RuleOutput = &matched

	if r.program.Has(entryDedup) {
		s, _, dedupErr := r.program.CallString(entryDedup, view)
		if dedupErr != nil {
			out.Errored = true
			out.DedupError = dedupErr.Error()
		} else {
			out.DedupOutput = &s
		}
	}

	if r.program.Has(entryTitle) {
		s, _, titleErr := r.program.CallString(entryTitle, view)
		if titleErr != nil {
			out.Errored = true
			out.TitleError = titleErr.Error()
		} else {
			out.TitleOutput = &s
		}
	}

	if r.program.Has(entryAlertContext) {
		m, _, actxErr := r.program.CallMap(entryAlertContext, view)
		if actxErr != nil {
			out.Errored = true
			out.AlertContextError = actxErr.Error()
		} else {
			out.AlertContextOutput = m
		}
	}

	return out
}

func errResult(err error) Result {
	name := obsclassify.TypeName(err)
	message := err.Error()
	if rtErr, ok := err.(*scripting.RuntimeError); ok {
		name = rtErr.Name
		message = rtErr.Message
	}
	title := name + "(" + quote(message) + ")"
	return Result{
		Err:           err,
		ExceptionName: name,
		Dedup:         name,
		Title:         &title,
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
}

func defaultDedupString(ruleID string) string {
	return "defaultDedupString:" + ruleID
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	keep := max - len(TruncatedStringSuffix)
	if keep < 0 {
		keep = 0
	}
	return s[:keep] + TruncatedStringSuffix
}
