// Package model holds the value types shared across the rules engine
// pipeline: events, rule/data-model specs fetched from the catalog, and
// the records produced while analyzing a batch.
package model

// Event is the wire representation of a single log event: an immutable,
// JSON-compatible map of field name to value. Consumers must not mutate
// a value retrieved from an Event in place; see eventview.View for the
// read-only accessor built on top of it.
type Event map[string]any

// RuleSpec is a rule as returned by the catalog API (§6 Catalog API).
type RuleSpec struct {
	ID                 string              `json:"id"`
	VersionID          string              `json:"versionId"`
	Body               string              `json:"body"`
	LogTypes           []string            `json:"logTypes"`
	Severity           string              `json:"severity"`
	OutputIDs          []string            `json:"outputIds,omitempty"`
	Tags               []string            `json:"tags,omitempty"`
	Reports            map[string][]string `json:"reports,omitempty"`
	DedupPeriodMinutes int                 `json:"dedupPeriodMinutes,omitempty"`
	Enabled            bool                `json:"enabled"`
}

// DataModelMappingSpec is a single field mapping as returned by the catalog.
type DataModelMappingSpec struct {
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	Method string `json:"method,omitempty"`
}

// DataModelSpec is a data model as returned by the catalog API.
type DataModelSpec struct {
	ID        string                  `json:"id"`
	VersionID string                  `json:"versionId"`
	Body      string                  `json:"body,omitempty"`
	LogTypes  []string                `json:"logTypes"`
	Mappings  []DataModelMappingSpec  `json:"mappings"`
	Enabled   bool                    `json:"enabled"`
}

// Paging mirrors the catalog API's pagination envelope.
type Paging struct {
	TotalPages int `json:"totalPages"`
	ThisPage   int `json:"thisPage"`
}
