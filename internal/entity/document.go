package entity

import "encoding/json"

// Document is the full wire and on-disk form of one project: the three
// payloads plus the version bookkeeping clients reconcile against.
// Glyphs and Syntaxes are JSON arrays sorted by id (see MarshalByID), so a
// persisted document is byte-stable across save/load cycles.
type Document struct {
	Project        string           `json:"project"`
	Version        int64            `json:"version"`
	UpdatedAt      string           `json:"updatedAt"`
	Glyphs         json.RawMessage  `json:"glyphs"`
	Syntaxes       json.RawMessage  `json:"syntaxes"`
	Metrics        json.RawMessage  `json:"metrics"`
	GlyphVersions  map[string]int64 `json:"glyphVersions"`
	SyntaxVersions map[string]int64 `json:"syntaxVersions"`
	MetricsVersion int64            `json:"metricsVersion"`
}
