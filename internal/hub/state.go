package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/typehaus/glyphhub/internal/entity"
)

// state is the resident form of one project. The hub's mutex guards every
// field except the ioMu pair, which serializes the persist+publish tail of
// mutations after the hub lock is released.
type state struct {
	project        string
	version        int64
	updatedAt      string
	glyphs         map[string]json.RawMessage
	syntaxes       map[string]json.RawMessage
	metrics        json.RawMessage
	glyphVersions  map[string]int64
	syntaxVersions map[string]int64
	metricsVersion int64
	subs           map[*Subscription]struct{}

	ioMu           sync.Mutex
	flushedVersion int64
}

func newEmptyState(projectID string) *state {
	return &state{
		project:        projectID,
		glyphs:         map[string]json.RawMessage{},
		syntaxes:       map[string]json.RawMessage{},
		metrics:        json.RawMessage(`{}`),
		glyphVersions:  map[string]int64{},
		syntaxVersions: map[string]int64{},
		subs:           map[*Subscription]struct{}{},
	}
}

func stateFromDocument(doc *entity.Document) (*state, error) {
	glyphs, err := entity.ParseArrayByID(doc.Glyphs, "glyphs")
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", doc.Project, err)
	}
	syntaxes, err := entity.ParseArrayByID(doc.Syntaxes, "syntaxes")
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", doc.Project, err)
	}
	return &state{
		project:        doc.Project,
		version:        doc.Version,
		updatedAt:      doc.UpdatedAt,
		glyphs:         glyphs,
		syntaxes:       syntaxes,
		metrics:        doc.Metrics,
		glyphVersions:  copyVersions(doc.GlyphVersions),
		syntaxVersions: copyVersions(doc.SyntaxVersions),
		metricsVersion: doc.MetricsVersion,
		subs:           map[*Subscription]struct{}{},
		flushedVersion: doc.Version,
	}, nil
}

// document snapshots the state as a wire document. The maps are copied and
// MarshalByID emits fresh buffers, so the caller can use the result after the
// hub lock is released; the payload bytes themselves are immutable after
// canonicalization and are shared.
func (st *state) document() *entity.Document {
	return &entity.Document{
		Project:        st.project,
		Version:        st.version,
		UpdatedAt:      st.updatedAt,
		Glyphs:         entity.MarshalByID(st.glyphs),
		Syntaxes:       entity.MarshalByID(st.syntaxes),
		Metrics:        st.metrics,
		GlyphVersions:  copyVersions(st.glyphVersions),
		SyntaxVersions: copyVersions(st.syntaxVersions),
		MetricsVersion: st.metricsVersion,
	}
}

func (st *state) subscribers() []*Subscription {
	subs := make([]*Subscription, 0, len(st.subs))
	for sub := range st.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (st *state) metricsState() *EntityState {
	return &EntityState{
		Project:        st.project,
		Entity:         "metrics",
		Version:        st.metricsVersion,
		ProjectVersion: st.version,
		UpdatedAt:      st.updatedAt,
		Payload:        st.metrics,
	}
}

// entityKind abstracts over the glyph/syntax symmetry so both share one
// upsert and one delete path.
type entityKind struct {
	name        string
	upsertEvent string
	deleteEvent string
}

var (
	kindGlyph  = entityKind{name: "glyph", upsertEvent: EventGlyphUpsert, deleteEvent: EventGlyphDelete}
	kindSyntax = entityKind{name: "syntax", upsertEvent: EventSyntaxUpsert, deleteEvent: EventSyntaxDelete}
)

func (k entityKind) maps(st *state) (map[string]json.RawMessage, map[string]int64) {
	if k.name == kindGlyph.name {
		return st.glyphs, st.glyphVersions
	}
	return st.syntaxes, st.syntaxVersions
}

// stateOf snapshots the authoritative view of one entity; absent entities
// report version 0 and deleted=true. Callers hold the hub lock.
func (k entityKind) stateOf(st *state, id string) *EntityState {
	entities, versions := k.maps(st)
	res := &EntityState{
		Project:        st.project,
		Entity:         k.name,
		EntityID:       id,
		Version:        versions[id],
		ProjectVersion: st.version,
		UpdatedAt:      st.updatedAt,
	}
	if payload, ok := entities[id]; ok {
		res.Payload = payload
	} else {
		res.Deleted = true
	}
	return res
}

func copyVersions(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
