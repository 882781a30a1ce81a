package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panther-labs/panther/internal/catalog"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/registry"
	"github.com/panther-labs/panther/internal/rule"
)

func newTestRegistry(t *testing.T, rules []model.RuleSpec, models []model.DataModelSpec) *registry.Registry {
	t.Helper()
	fake := &catalog.Fake{Rules: rules, DataModels: models}
	reg := registry.New(registry.Options{Catalog: fake, RefreshInterval: time.Hour})
	require.NoError(t, reg.EnsureFresh(context.Background()))
	return reg
}

func TestAnalyze_ReturnsResultForMatchingRule(t *testing.T) {
	reg := newTestRegistry(t, []model.RuleSpec{
		{ID: "r1", Body: "function rule(e){return true;}", LogTypes: []string{"aws.cloudtrail"}, Severity: "HIGH", Enabled: true},
	}, nil)
	eng := New(Options{Registry: reg})

	results := eng.Analyze(context.Background(), "aws.cloudtrail", model.Event{"a": 1})
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].RuleID)
	assert.Equal(t, "HIGH", results[0].Severity)
	assert.True(t, results[0].Matched())
}

func TestAnalyze_NonMatchProducesNoResult(t *testing.T) {
	reg := newTestRegistry(t, []model.RuleSpec{
		{ID: "r1", Body: "function rule(e){return false;}", LogTypes: []string{"aws.cloudtrail"}, Enabled: true},
	}, nil)
	eng := New(Options{Registry: reg})

	results := eng.Analyze(context.Background(), "aws.cloudtrail", model.Event{})
	assert.Empty(t, results)
}

func TestAnalyze_UnrelatedLogTypeProducesNoResults(t *testing.T) {
	reg := newTestRegistry(t, []model.RuleSpec{
		{ID: "r1", Body: "function rule(e){return true;}", LogTypes: []string{"aws.cloudtrail"}, Enabled: true},
	}, nil)
	eng := New(Options{Registry: reg})

	results := eng.Analyze(context.Background(), "gcp.audit", model.Event{})
	assert.Empty(t, results)
}

func TestAnalyze_RuleErrorProducesResultWithErrorMessage(t *testing.T) {
	reg := newTestRegistry(t, []model.RuleSpec{
		{ID: "broken", Body: `function rule(e){throw new Error("boom");}`, LogTypes: []string{"aws.cloudtrail"}, Enabled: true},
	}, nil)
	eng := New(Options{Registry: reg})

	results := eng.Analyze(context.Background(), "aws.cloudtrail", model.Event{})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].ErrorMessage)
	assert.False(t, results[0].Matched())
	assert.Equal(t, rule.ErrorDedupPeriodMinutes, results[0].DedupPeriodMins)
}

func TestAnalyze_MultipleRulesAgainstSameEvent(t *testing.T) {
	reg := newTestRegistry(t, []model.RuleSpec{
		{ID: "r1", Body: "function rule(e){return true;}", LogTypes: []string{"aws.cloudtrail"}, Enabled: true},
		{ID: "r2", Body: "function rule(e){return true;}", LogTypes: []string{"aws.cloudtrail"}, Enabled: true},
	}, nil)
	eng := New(Options{Registry: reg})

	results := eng.Analyze(context.Background(), "aws.cloudtrail", model.Event{})
	require.Len(t, results, 2)
}

func TestAnalyze_BindsDataModelForLogType(t *testing.T) {
	reg := newTestRegistry(t,
		[]model.RuleSpec{
			{ID: "r1", Body: `function rule(e){return e.udm("actor") === "alice";}`, LogTypes: []string{"aws.cloudtrail"}, Enabled: true},
		},
		[]model.DataModelSpec{
			{ID: "dm1", VersionID: "v1", LogTypes: []string{"aws.cloudtrail"},
				Mappings: []model.DataModelMappingSpec{{Name: "actor", Path: "$.userName"}}, Enabled: true},
		},
	)
	eng := New(Options{Registry: reg})

	results := eng.Analyze(context.Background(), "aws.cloudtrail", model.Event{"userName": "alice"})
	require.Len(t, results, 1)
}
