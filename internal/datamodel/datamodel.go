// Package datamodel compiles a catalog DataModelSpec into the mapping
// table an EventView consults when resolving udm() calls (spec §4.B).
package datamodel

import (
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/eventview"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/scripting"
)

// Kind distinguishes how a mapping entry resolves a canonical field name.
type Kind int

const (
	// KindPath resolves via a parsed path expression against the raw event.
	KindPath Kind = iota
	// KindMethod resolves via a named extractor function on the compiled body.
	KindMethod
)

type mapping struct {
	name string
	kind Kind

	path       *jmespath.JMESPath
	projection bool // true when path contains a projection/flatten operator

	method string
}

// Model is a compiled DataModel: the parsed mapping table plus, when at
// least one mapping is method-based, the compiled execution context those
// methods live in.
type Model struct {
	ID        string
	VersionID string

	mappings map[string]mapping
	program  *scripting.Program // nil when no mapping uses method
}

// Compile validates spec and compiles its mappings, including any
// method-based extractor functions (compiled in an isolated execution
// context identified by spec.ID, with the globals preamble prepended per
// Design Note §9). See spec §4.B for the validation rules.
func Compile(spec model.DataModelSpec, globalsPreamble string) (*Model, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, apperrors.Validationf("data model: id is required")
	}
	if strings.TrimSpace(spec.VersionID) == "" {
		return nil, apperrors.Validationf("data model %q: versionId is required", spec.ID)
	}
	if len(spec.Mappings) == 0 {
		return nil, apperrors.Validationf("data model %q: mappings must be non-empty", spec.ID)
	}

	var program *scripting.Program
	needsProgram := false
	for _, m := range spec.Mappings {
		if strings.TrimSpace(m.Method) != "" {
			needsProgram = true
			break
		}
	}
	if needsProgram {
		var err error
		program, err = scripting.Compile(spec.ID, globalsPreamble, spec.Body)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeCompile, "data model %q: compiling body", spec.ID)
		}
	}

	mappings := make(map[string]mapping, len(spec.Mappings))
	for _, m := range spec.Mappings {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, apperrors.Validationf("data model %q: mapping missing name", spec.ID)
		}
		hasPath := strings.TrimSpace(m.Path) != ""
		hasMethod := strings.TrimSpace(m.Method) != ""

		switch {
		case hasPath == hasMethod:
			// Either both or neither are present: invalid either way.
			return nil, apperrors.Validationf("data model %q: mapping %q must have exactly one of path or method", spec.ID, name)
		case hasPath:
			compiled, projection, err := compilePath(m.Path)
			if err != nil {
				return nil, apperrors.Wrapf(err, apperrors.ErrCodeCompile, "data model %q: mapping %q: invalid path %q", spec.ID, name, m.Path)
			}
			mappings[name] = mapping{name: name, kind: KindPath, path: compiled, projection: projection}
		case hasMethod:
			if !program.Has(m.Method) {
				return nil, apperrors.Validationf("data model %q: mapping %q: method %q not found in compiled body", spec.ID, name, m.Method)
			}
			mappings[name] = mapping{name: name, kind: KindMethod, method: m.Method}
		}
	}

	return &Model{ID: spec.ID, VersionID: spec.VersionID, mappings: mappings, program: program}, nil
}

// compilePath parses a JSONPath-like expression ($.a.b[0].c) as a
// JMESPath expression: the go-jmespath library is the only
// path-expression evaluator available in the dependency surface this
// module draws from, so the leading "$." (or bare "$") root marker is
// stripped before compilation and the remainder is treated as JMESPath.
func compilePath(path string) (*jmespath.JMESPath, bool, error) {
	expr := strings.TrimSpace(path)
	expr = strings.TrimPrefix(expr, "$")
	expr = strings.TrimPrefix(expr, ".")
	if expr == "" {
		expr = "@"
	}
	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, false, err
	}
	return compiled, isProjectionExpr(expr), nil
}

// isProjectionExpr reports whether expr contains a JMESPath projection,
// wildcard, or flatten operator ("*", "[]", "[?...]") — the only
// constructs under which a single udm() path can legitimately match more
// than one location. A plain path like "tags" that merely happens to
// resolve to an array-typed field value contains none of these and must
// not be treated as a multiple-matches case.
func isProjectionExpr(expr string) bool {
	return strings.Contains(expr, "*") || strings.Contains(expr, "[]") || strings.Contains(expr, "[?")
}

// Udm implements eventview.Resolver: it resolves name against this
// model's mapping table and, for a path mapping, fails with
// MultipleMatches when the expression yields more than one result.
func (m *Model) Udm(view *eventview.View, name string) (any, error) {
	mp, ok := m.mappings[name]
	if !ok {
		return nil, nil
	}

	switch mp.kind {
	case KindPath:
		result, err := mp.path.Search(map[string]any(view.Raw()))
		if err != nil {
			return nil, apperrors.RuleErrorf("udm(%q): path evaluation failed: %v", name, err)
		}
		if !mp.projection {
			// Not a projection: whatever Search returned, including a
			// plain array-typed field value, is the resolved value.
			return result, nil
		}
		matches, ok := result.([]any)
		if !ok {
			return result, nil
		}
		switch len(matches) {
		case 0:
			return nil, nil
		case 1:
			return matches[0], nil
		default:
			return nil, apperrors.RuleErrorf("udm(%q): path matched multiple fields", name)
		}
	case KindMethod:
		value, _, err := m.program.CallAny(mp.method, view)
		if err != nil {
			return nil, err
		}
		return value, nil
	default:
		return nil, nil
	}
}

var _ eventview.Resolver = (*Model)(nil)
