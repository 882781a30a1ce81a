// Package eventview implements the read-only view over a single event
// that rule bodies receive as their argument (spec §4.A).
package eventview

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/panther-labs/panther/internal/model"
)

// Resolver resolves a canonical UDM field name against a bound View. A
// compiled DataModel implements this interface; eventview depends only on
// the interface so it never imports the datamodel package.
type Resolver interface {
	Udm(view *View, name string) (any, error)
}

// View is an immutable, hashable wrapper over an Event and an optional
// bound Resolver. Values returned by Get reference the underlying map
// directly; callers MUST NOT mutate them — goja's default conversion of a
// Go map to a JS object produces a one-way snapshot, so in practice no
// mutation performed by rule code is ever observed outside the call that
// produced it.
type View struct {
	raw   model.Event
	model Resolver
}

// New wraps raw in a View bound to the given Resolver. resolver may be
// nil when no DataModel applies to the log type; Udm then always returns
// nil, consistent with spec §4.A's "neither a path nor a function
// registered" case.
func New(raw model.Event, resolver Resolver) *View {
	if raw == nil {
		raw = model.Event{}
	}
	return &View{raw: raw, model: resolver}
}

// Get returns the raw field value for key, or nil if absent.
func (v *View) Get(key string) any {
	return v.raw[key]
}

// Udm resolves a canonical field name through the bound data model. See
// Resolver and spec §4.A for the path/method/absent resolution order.
func (v *View) Udm(name string) (any, error) {
	if v.model == nil {
		return nil, nil
	}
	return v.model.Udm(v, name)
}

// Raw returns the underlying event map for use by path-expression
// evaluators and serializers. Callers in this module's own packages may
// read it freely; it must never be exposed for mutation to rule code.
func (v *View) Raw() model.Event {
	return v.raw
}

// Len reports the number of top-level fields in the event.
func (v *View) Len() int {
	return len(v.raw)
}

// Key returns a stable, content-addressed identifier for this View,
// satisfying spec §4.A's "hashable and equatable by value" requirement
// so views can be deduplicated in downstream sets. Two Views over
// field-for-field identical events (JSON-equivalent, ignoring map key
// order) produce the same Key regardless of the bound Resolver.
func (v *View) Key() string {
	sum := sha256.Sum256(canonicalJSON(v.raw))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON serializes value with map keys sorted at every level, so
// two maps built in different iteration orders hash identically.
func canonicalJSON(value any) []byte {
	b, err := json.Marshal(sortedValue(value))
	if err != nil {
		return nil
	}
	return b
}

func sortedValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]keyedValue, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyedValue{Key: k, Value: sortedValue(v[k])})
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return v
	}
}

// keyedValue serializes as a {"Key": ..., "Value": ...} object; a slice of
// them in sorted key order keeps the output deterministic JSON without
// relying on Go's native map ordering.
type keyedValue struct {
	Key   string
	Value any
}
