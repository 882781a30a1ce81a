// Package registry periodically refreshes the enabled Rule and DataModel
// sets from the catalog and exposes them indexed by log type (spec §4.D).
package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panther-labs/panther/internal/catalog"
	"github.com/panther-labs/panther/internal/datamodel"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/rule"
)

// RefreshInterval is the default time-to-live of the compiled index
// before the next analyze call triggers a refresh (spec RULES_CACHE_DURATION).
const RefreshInterval = 5 * time.Minute

// DefaultGlobalsRuleID is the well-known id of the rule whose body is
// prepended as a preamble to every other rule/data-model compilation
// (Design Note §9's "shared globals rule"; see SPEC_FULL.md §7 for the
// constant's provenance).
const DefaultGlobalsRuleID = "aws_globals"

// Options configure a Registry.
type Options struct {
	Catalog         catalog.Client
	Logger          *slog.Logger
	RefreshInterval time.Duration
	GlobalsRuleID   string
}

type index struct {
	rulesByLogType  map[string][]*rule.Rule
	modelsByLogType map[string]*datamodel.Model
	builtAt         time.Time
}

// Registry holds the currently active rule/data-model index and refreshes
// it from the catalog on demand.
type Registry struct {
	catalog         catalog.Client
	logger          *slog.Logger
	refreshInterval time.Duration
	globalsRuleID   string

	refreshMu   sync.Mutex
	idx         atomic.Pointer[index]
	lastAttempt atomic.Int64 // UnixNano of last refresh attempt, success or failure
}

// New constructs a Registry. It performs no I/O; the first call to
// EnsureFresh or analyzer use triggers the initial load.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = RefreshInterval
	}
	globalsID := opts.GlobalsRuleID
	if globalsID == "" {
		globalsID = DefaultGlobalsRuleID
	}
	return &Registry{
		catalog:         opts.Catalog,
		logger:          logger,
		refreshInterval: interval,
		globalsRuleID:   globalsID,
	}
}

// EnsureFresh refreshes the index if its TTL has elapsed or it has never
// been built, per spec §4.E step 1. A failed refresh (catalog transport
// error) leaves the previous index intact and returns the error so the
// caller may log it; the previous index, if any, remains usable.
func (r *Registry) EnsureFresh(ctx context.Context) error {
	if !r.stale() {
		return nil
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if !r.stale() {
		return nil
	}
	return r.refresh(ctx)
}

func (r *Registry) stale() bool {
	if r.idx.Load() == nil {
		return true
	}
	last := r.lastAttempt.Load()
	return last == 0 || time.Since(time.Unix(0, last)) >= r.refreshInterval
}

func (r *Registry) refresh(ctx context.Context) error {
	r.lastAttempt.Store(time.Now().UnixNano())

	rules, err := r.catalog.ListRules(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "registry refresh failed listing rules, retaining previous index", "err", err)
		return err
	}
	models, err := r.catalog.ListDataModels(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "registry refresh failed listing data models, retaining previous index", "err", err)
		return err
	}

	preamble, globalsID := findGlobalsPreamble(rules, r.globalsRuleID)

	newIdx := &index{
		rulesByLogType:  make(map[string][]*rule.Rule),
		modelsByLogType: make(map[string]*datamodel.Model),
		builtAt:         time.Now(),
	}

	for _, spec := range rules {
		if spec.ID == globalsID {
			// The globals rule is a preamble source, never a rule in its
			// own right, regardless of what LogTypes its catalog record
			// carries.
			continue
		}
		compiled, compileErr := rule.Compile(spec, preamble)
		if compileErr != nil {
			r.logger.ErrorContext(ctx, "skipping rule that failed to compile", "rule_id", spec.ID, "err", compileErr)
			continue
		}
		for _, logType := range spec.LogTypes {
			newIdx.rulesByLogType[logType] = append(newIdx.rulesByLogType[logType], compiled)
		}
	}

	for _, spec := range models {
		compiled, compileErr := datamodel.Compile(spec, preamble)
		if compileErr != nil {
			r.logger.ErrorContext(ctx, "skipping data model that failed to compile", "data_model_id", spec.ID, "err", compileErr)
			continue
		}
		for _, logType := range spec.LogTypes {
			if _, exists := newIdx.modelsByLogType[logType]; exists {
				r.logger.ErrorContext(ctx, "multiple data models registered for log type, last one wins", "log_type", logType, "data_model_id", spec.ID)
			}
			newIdx.modelsByLogType[logType] = compiled
		}
	}

	r.idx.Store(newIdx)
	return nil
}

func findGlobalsPreamble(rules []model.RuleSpec, globalsRuleID string) (preamble, id string) {
	for _, spec := range rules {
		if spec.ID == globalsRuleID {
			return spec.Body, spec.ID
		}
	}
	return "", globalsRuleID
}

// RulesFor returns the compiled rules registered for logType, or nil if
// the index has not yet been built or no rule applies.
func (r *Registry) RulesFor(logType string) []*rule.Rule {
	idx := r.idx.Load()
	if idx == nil {
		return nil
	}
	return idx.rulesByLogType[logType]
}

// DataModelFor returns the compiled data model registered for logType, or
// nil if none applies.
func (r *Registry) DataModelFor(logType string) *datamodel.Model {
	idx := r.idx.Load()
	if idx == nil {
		return nil
	}
	return idx.modelsByLogType[logType]
}
