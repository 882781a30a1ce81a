// Package scripting embeds a per-compiled-unit JavaScript runtime used to
// execute user-authored Rule and DataModel bodies. Each Program owns its
// own goja.Runtime, giving every rule/data-model id the isolated
// execution context required by the registry (spec Design Note §9):
// goja.Runtime values share no state and cannot be invoked concurrently
// from multiple goroutines, which is exactly the single-threaded,
// no-cross-rule-sharing contract the Engine relies on.
package scripting

import (
	"github.com/dop251/goja"

	"github.com/panther-labs/panther/internal/apperrors"
)

// Program is a single compiled rule or data-model body, ready to invoke
// its exported entry points.
type Program struct {
	id string
	rt *goja.Runtime
}

// RuntimeError wraps a JS exception thrown during a Call, preserving the
// exception's "name" and "message" properties so callers can build a
// stable dedup string from the exception's class-equivalent name (the Go
// port's analog of the source engine's type_name(exception)).
type RuntimeError struct {
	Name    string
	Message string
	Cause   error
}

func (e *RuntimeError) Error() string {
	return e.Name + ": " + e.Message
}

// Unwrap enables errors.Is/errors.As against the underlying goja error.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// Compile compiles source in a fresh runtime identified by id. preamble,
// when non-empty, is the raw source of the designated "globals" rule and
// is evaluated first in the same runtime, so its top-level declarations
// are visible to source (the "shared globals rule" mechanism of Design
// Note §9). A compile failure is returned as an *apperrors.AppError with
// ErrCodeCompile.
func Compile(id, preamble, source string) (*Program, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.UncapFieldNameMapper())

	if preamble != "" {
		if _, err := rt.RunString(preamble); err != nil {
			return nil, apperrors.CompileErrorf("%s: compiling globals preamble: %v", id, err)
		}
	}
	if _, err := rt.RunString(source); err != nil {
		return nil, apperrors.CompileErrorf("%s: %v", id, err)
	}

	return &Program{id: id, rt: rt}, nil
}

// ID returns the rule or data-model id this program was compiled for.
func (p *Program) ID() string {
	return p.id
}

// Has reports whether name is defined as a callable top-level function.
func (p *Program) Has(name string) bool {
	_, ok := p.callable(name)
	return ok
}

func (p *Program) callable(name string) (goja.Callable, bool) {
	v := p.rt.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return nil, false
	}
	return goja.AssertFunction(v)
}

// Call invokes the named function with args (converted via the runtime's
// ToValue), returning its exported Go value. found is false when name is
// not defined as a function; in that case value and err are both zero.
// A thrown JS exception is returned as a *RuntimeError; any other call
// failure is returned as a RuleError.
func (p *Program) Call(name string, args ...any) (value any, found bool, err error) {
	fn, ok := p.callable(name)
	if !ok {
		return nil, false, nil
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = p.rt.ToValue(a)
	}

	result, callErr := fn(goja.Undefined(), jsArgs...)
	if callErr != nil {
		if ex, ok := callErr.(*goja.Exception); ok {
			excName, message := p.describeException(ex)
			return nil, true, &RuntimeError{Name: excName, Message: message, Cause: callErr}
		}
		return nil, true, apperrors.RuleErrorf("%s.%s: %v", p.id, name, callErr)
	}
	return result.Export(), true, nil
}

// describeException extracts the "name" and "message" properties of a
// thrown JS value when it is an Error-shaped object, falling back to its
// string form otherwise.
func (p *Program) describeException(ex *goja.Exception) (name, message string) {
	v := ex.Value()
	if obj, ok := v.(*goja.Object); ok {
		if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
			name = n.String()
		}
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			message = m.String()
		}
	}
	if name == "" {
		name = "Error"
	}
	if message == "" {
		message = v.String()
	}
	return name, message
}

// CallBool invokes name and requires the result to be a JS boolean.
// Returns a TypeMismatch-flavored *apperrors.AppError otherwise.
func (p *Program) CallBool(name string, args ...any) (value bool, found bool, err error) {
	v, found, err := p.Call(name, args...)
	if err != nil || !found {
		return false, found, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, true, apperrors.RuleErrorf("%s.%s: expected bool, got %T", p.id, name, v)
	}
	return b, true, nil
}

// CallString invokes name and requires the result to be a JS string.
func (p *Program) CallString(name string, args ...any) (value string, found bool, err error) {
	v, found, err := p.Call(name, args...)
	if err != nil || !found {
		return "", found, err
	}
	s, ok := v.(string)
	if !ok {
		return "", true, apperrors.RuleErrorf("%s.%s: expected string, got %T", p.id, name, v)
	}
	return s, true, nil
}

// CallMap invokes name and requires the result to be a JSON-serializable
// object (map[string]any).
func (p *Program) CallMap(name string, args ...any) (value map[string]any, found bool, err error) {
	v, found, err := p.Call(name, args...)
	if err != nil || !found {
		return nil, found, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, true, apperrors.RuleErrorf("%s.%s: expected object, got %T", p.id, name, v)
	}
	return m, true, nil
}

// CallAny invokes name with no type requirement on the result, used for
// data-model method extractors whose return shape is caller-defined.
func (p *Program) CallAny(name string, args ...any) (value any, found bool, err error) {
	return p.Call(name, args...)
}
