package catalog

import (
	"context"

	"github.com/panther-labs/panther/internal/model"
)

// Fake is an in-memory Client for registry unit tests. It never fails
// unless Err is set, letting tests exercise the CatalogUnavailable path
// without a network dependency.
type Fake struct {
	Rules       []model.RuleSpec
	DataModels  []model.DataModelSpec
	Err         error
	ListedRules int
	ListedModels int
}

// ListRules returns the fixed Rules slice, or Err when set.
func (f *Fake) ListRules(_ context.Context) ([]model.RuleSpec, error) {
	f.ListedRules++
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]model.RuleSpec, len(f.Rules))
	copy(out, f.Rules)
	return out, nil
}

// ListDataModels returns the fixed DataModels slice, or Err when set.
func (f *Fake) ListDataModels(_ context.Context) ([]model.DataModelSpec, error) {
	f.ListedModels++
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]model.DataModelSpec, len(f.DataModels))
	copy(out, f.DataModels)
	return out, nil
}

var _ Client = (*Fake)(nil)
