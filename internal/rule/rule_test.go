package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panther-labs/panther/internal/eventview"
	"github.com/panther-labs/panther/internal/model"
)

func mustCompile(t *testing.T, spec model.RuleSpec, preamble string) *Rule {
	t.Helper()
	r, err := Compile(spec, preamble)
	require.NoError(t, err)
	return r
}

func TestCompile_RequiresID(t *testing.T) {
	_, err := Compile(model.RuleSpec{Body: "function rule(e){return true;}"}, "")
	require.Error(t, err)
}

func TestCompile_RequiresBody(t *testing.T) {
	_, err := Compile(model.RuleSpec{ID: "r1"}, "")
	require.Error(t, err)
}

func TestCompile_RequiresRuleEntryPoint(t *testing.T) {
	_, err := Compile(model.RuleSpec{ID: "r1", Body: "function title(e){return 'x';}"}, "")
	require.Error(t, err)
}

func TestCompile_DefaultsDedupPeriod(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: "function rule(e){return true;}"}, "")
	assert.Equal(t, DefaultDedupPeriodMinutes, r.DedupPeriodMinutes)
}

func TestCompile_KeepsExplicitDedupPeriod(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: "function rule(e){return true;}", DedupPeriodMinutes: 30}, "")
	assert.Equal(t, 30, r.DedupPeriodMinutes)
}

func TestRule_RunNonMatchProducesEmptyResult(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: "function rule(e){return false;}"}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	assert.False(t, result.Matched)
	assert.NoError(t, result.Err)
}

func TestRule_RunMatchDefaultsDedupStringWithRuleID(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "my-rule", Body: "function rule(e){return true;}"}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	assert.True(t, result.Matched)
	assert.Equal(t, "defaultDedupString:my-rule", result.Dedup)
}

func TestRule_RunUsesDedupFunctionWhenDefined(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: `
		function rule(e){return true;}
		function dedup(e){return "custom-dedup";}
	`}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	assert.Equal(t, "custom-dedup", result.Dedup)
}

func TestRule_RunFallsBackToDefaultDedupWhenDedupFnErrors(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "my-rule", Body: `
		function rule(e){return true;}
		function dedup(e){throw new Error("boom");}
	`}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	assert.Equal(t, "defaultDedupString:my-rule", result.Dedup)
}

func TestRule_RunTruncatesOversizedDedup(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: `
		function rule(e){return true;}
		function dedup(e){
			var s = "";
			for (var i = 0; i < 2000; i++) { s += "x"; }
			return s;
		}
	`}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	assert.LessOrEqual(t, len(result.Dedup), MaxDedupStringSize)
	assert.Contains(t, result.Dedup, TruncatedStringSuffix)
}

func TestRule_RunSetsTitleWhenDefined(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: `
		function rule(e){return true;}
		function title(e){return "an alert title";}
	`}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	require.NotNil(t, result.Title)
	assert.Equal(t, "an alert title", *result.Title)
}

func TestRule_RunTitleOmittedWhenTitleFnErrors(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: `
		function rule(e){return true;}
		function title(e){throw new Error("boom");}
	`}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	assert.Nil(t, result.Title)
}

func TestRule_RunSetsAlertContextWhenDefined(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: `
		function rule(e){return true;}
		function alert_context(e){return {key: "value"};}
	`}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	assert.Equal(t, "value", result.AlertContext["key"])
}

func TestRule_RunRuleErrorProducesExceptionNameDedup(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: `
		function rule(e){
			var e2 = new Error("broke");
			e2.name = "BrokenRule";
			throw e2;
		}
	`}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	require.Error(t, result.Err)
	assert.Equal(t, "BrokenRule", result.ExceptionName)
	assert.Equal(t, "BrokenRule", result.Dedup)
	require.NotNil(t, result.Title)
}

func TestRule_RunRuleReturningNonBoolIsAnError(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: "function rule(e){return 'yes';}"}, "")
	result := r.Run(eventview.New(model.Event{}, nil))
	require.Error(t, result.Err)
	assert.Equal(t, "AppError", result.ExceptionName)
	assert.Equal(t, "AppError", result.Dedup)
}

func TestRule_RunDirectTest_SurfacesDedupErrorRatherThanDefaulting(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: `
		function rule(e){return true;}
		function dedup(e){throw new Error("boom");}
	`}, "")
	out := r.RunDirectTest(eventview.New(model.Event{}, nil))
	assert.True(t, out.Errored)
	assert.NotEmpty(t, out.DedupError)
	assert.Nil(t, out.DedupOutput)
}

func TestRule_RunDirectTest_ReportsRuleOutput(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: "function rule(e){return true;}"}, "")
	out := r.RunDirectTest(eventview.New(model.Event{}, nil))
	require.NotNil(t, out.RuleOutput)
	assert.True(t, *out.RuleOutput)
	assert.False(t, out.Errored)
}

func TestRule_RunDirectTest_RuleErrorShortCircuits(t *testing.T) {
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: `function rule(e){throw new Error("boom");}`}, "")
	out := r.RunDirectTest(eventview.New(model.Event{}, nil))
	assert.True(t, out.Errored)
	assert.NotEmpty(t, out.RuleError)
	assert.Nil(t, out.RuleOutput)
}

func TestRule_GlobalsPreambleAvailableInRuleBody(t *testing.T) {
	preamble := `function isAllowed(ip) { return ip === "10.0.0.1"; }`
	r := mustCompile(t, model.RuleSpec{ID: "r1", Body: "function rule(e){return isAllowed(e.get('sourceIp'));}"}, preamble)
	matched := r.Run(eventview.New(model.Event{"sourceIp": "10.0.0.1"}, nil))
	assert.True(t, matched.Matched)
	notMatched := r.Run(eventview.New(model.Event{"sourceIp": "1.2.3.4"}, nil))
	assert.False(t, notMatched.Matched)
}
