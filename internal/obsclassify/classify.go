// Package obsclassify normalizes errors into stable tags for logging and
// for the Engine's dedup-string-on-error path, adapted from the host
// project's internal/observability/errors package.
package obsclassify

import (
	goerrors "errors"
	"reflect"
	"strings"
)

// TypeName returns the unwrapped, normalized exception type name used by
// the Engine as the dedup string for a rule that errored (spec §4.E:
// dedup = type_name(exception)). It mirrors Classify but preserves
// Go-style capitalization of the base type name, since the Engine wants
// something close to a Python exception class name (e.g. "Exception",
// "RuleError") rather than a metric-safe snake_case tag.
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	t := innermostType(err)
	if t == nil {
		return "error"
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	return name
}

// Classify returns a normalized, metric-safe error type tag: innermost
// type, lowercased, pointers and package qualifiers flattened.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	t := innermostType(err)
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}

func innermostType(err error) reflect.Type {
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
