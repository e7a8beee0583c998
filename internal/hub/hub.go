package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/typehaus/glyphhub/internal/entity"
	"github.com/typehaus/glyphhub/internal/storage"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SanitizeProjectID coerces anything outside ^[A-Za-z0-9_-]+$ (including the
// empty string) to "default". Applied uniformly on every operation.
func SanitizeProjectID(raw string) string {
	if projectIDPattern.MatchString(raw) {
		return raw
	}
	return "default"
}

// EntityState is the authoritative view of one glyph, syntax, or metrics
// value. It doubles as the success body and the 409 conflict body of the
// single-entity operations.
type EntityState struct {
	Project        string          `json:"project"`
	Entity         string          `json:"entity"`
	EntityID       string          `json:"entityId,omitempty"`
	Version        int64           `json:"version"`
	ProjectVersion int64           `json:"projectVersion"`
	Deleted        bool            `json:"deleted,omitempty"`
	UpdatedAt      string          `json:"updatedAt"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// UpsertRequest carries one glyph or syntax write.
type UpsertRequest struct {
	ClientID    string
	BaseVersion int64
	Payload     json.RawMessage
}

// DeleteRequest carries one glyph or syntax removal.
type DeleteRequest struct {
	ClientID    string
	BaseVersion int64
	ID          string
}

// MetricsRequest carries a metrics replacement.
type MetricsRequest struct {
	ClientID    string
	BaseVersion int64
	Metrics     json.RawMessage
}

// ReplaceRequest carries a full-snapshot PUT.
type ReplaceRequest struct {
	ClientID    string
	BaseVersion int64
	Glyphs      json.RawMessage
	Syntaxes    json.RawMessage
	Metrics     json.RawMessage
}

// Hub owns every resident project. One RWMutex guards the project map and all
// state interiors: pure reads take the read lock, everything else the write
// lock. No I/O and no channel sends happen under the lock; disk loads run
// before a double-checked insert, persistence and publishing run afterwards
// against a cloned document and a copied subscriber slice.
type Hub struct {
	mu       sync.RWMutex
	projects map[string]*state
	store    *storage.Store
	dropped  atomic.Int64
}

func New(store *storage.Store) *Hub {
	return &Hub{
		projects: map[string]*state{},
		store:    store,
	}
}

// DroppedEvents reports how many events were discarded for slow subscribers
// since startup.
func (h *Hub) DroppedEvents() int64 {
	return h.dropped.Load()
}

// Get returns the current document for a project, loading it from disk on
// first touch. A project with no resident state and no on-disk snapshot is
// ErrNotFound.
func (h *Hub) Get(ctx context.Context, projectID string) (*entity.Document, error) {
	projectID = SanitizeProjectID(projectID)
	st, ok, err := h.resident(ctx, projectID, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return st.document(), nil
}

// ListProjects merges resident projects with on-disk snapshots, sorted by
// project id.
func (h *Hub) ListProjects(ctx context.Context) ([]storage.ProjectInfo, error) {
	infos, err := h.store.List()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]storage.ProjectInfo, len(infos))
	for _, info := range infos {
		byID[info.Project] = info
	}

	h.mu.RLock()
	for id, st := range h.projects {
		byID[id] = storage.ProjectInfo{Project: id, Version: st.version, UpdatedAt: st.updatedAt}
	}
	h.mu.RUnlock()

	out := make([]storage.ProjectInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out, nil
}

// Subscribe attaches a bounded event queue to a project and returns the
// current document plus whether the project existed before this call. A
// never-created project becomes resident at version 0 and reports
// existed=false; the SSE handler then skips the initial snapshot.
func (h *Hub) Subscribe(ctx context.Context, projectID string) (*entity.Document, bool, *Subscription, error) {
	projectID = SanitizeProjectID(projectID)
	st, _, err := h.resident(ctx, projectID, true)
	if err != nil {
		return nil, false, nil, err
	}

	sub := &Subscription{ch: make(chan Event, QueueCapacity)}
	h.mu.Lock()
	st.subs[sub] = struct{}{}
	doc := st.document()
	existed := st.version > 0
	h.mu.Unlock()

	return doc, existed, sub, nil
}

// Unsubscribe detaches a subscription. Safe to call after the project has
// seen further mutations.
func (h *Hub) Unsubscribe(projectID string, sub *Subscription) {
	projectID = SanitizeProjectID(projectID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.projects[projectID]; ok {
		delete(st.subs, sub)
	}
}

// UpsertGlyph inserts or replaces one glyph against its entity version.
func (h *Hub) UpsertGlyph(ctx context.Context, projectID string, req UpsertRequest) (*EntityState, error) {
	return h.upsertEntity(ctx, projectID, kindGlyph, req)
}

// UpsertSyntax inserts or replaces one syntax rule against its entity version.
func (h *Hub) UpsertSyntax(ctx context.Context, projectID string, req UpsertRequest) (*EntityState, error) {
	return h.upsertEntity(ctx, projectID, kindSyntax, req)
}

// DeleteGlyph removes one glyph against its entity version.
func (h *Hub) DeleteGlyph(ctx context.Context, projectID string, req DeleteRequest) (*EntityState, error) {
	return h.deleteEntity(ctx, projectID, kindGlyph, req)
}

// DeleteSyntax removes one syntax rule against its entity version.
func (h *Hub) DeleteSyntax(ctx context.Context, projectID string, req DeleteRequest) (*EntityState, error) {
	return h.deleteEntity(ctx, projectID, kindSyntax, req)
}

func (h *Hub) upsertEntity(ctx context.Context, projectID string, kind entityKind, req UpsertRequest) (*EntityState, error) {
	projectID = SanitizeProjectID(projectID)
	id, canon, err := entity.ParseItem(req.Payload, kind.name)
	if err != nil {
		return nil, err
	}

	st, _, err := h.resident(ctx, projectID, true)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	entities, versions := kind.maps(st)
	current := versions[id]
	if req.BaseVersion != current {
		res := kind.stateOf(st, id)
		h.mu.Unlock()
		return nil, &ConflictError{Entity: res}
	}
	if prev, ok := entities[id]; ok && bytes.Equal(prev, canon) {
		// Byte-identical overwrite: no new revision, no event.
		res := kind.stateOf(st, id)
		h.mu.Unlock()
		return res, nil
	}
	entities[id] = canon
	versions[id] = current + 1
	st.version++
	st.updatedAt = now()
	res := kind.stateOf(st, id)
	doc := st.document()
	subs := st.subscribers()
	h.mu.Unlock()

	ev, err := entityEvent(kind.upsertEvent, req.ClientID, res)
	if err != nil {
		return nil, err
	}
	if err := h.flush(ctx, st, doc, subs, ev); err != nil {
		return nil, err
	}
	return res, nil
}

func (h *Hub) deleteEntity(ctx context.Context, projectID string, kind entityKind, req DeleteRequest) (*EntityState, error) {
	projectID = SanitizeProjectID(projectID)
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, &entity.PayloadError{Message: kind.name + " id is required"}
	}

	st, _, err := h.resident(ctx, projectID, true)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	entities, versions := kind.maps(st)
	current := versions[id]
	if req.BaseVersion != current {
		res := kind.stateOf(st, id)
		h.mu.Unlock()
		return nil, &ConflictError{Entity: res}
	}
	if _, ok := entities[id]; !ok {
		// Already absent: deleting nothing is a no-op success.
		res := kind.stateOf(st, id)
		h.mu.Unlock()
		return res, nil
	}
	delete(entities, id)
	delete(versions, id)
	st.version++
	st.updatedAt = now()
	res := &EntityState{
		Project:        st.project,
		Entity:         kind.name,
		EntityID:       id,
		Version:        current,
		ProjectVersion: st.version,
		Deleted:        true,
		UpdatedAt:      st.updatedAt,
	}
	doc := st.document()
	subs := st.subscribers()
	h.mu.Unlock()

	ev, err := entityEvent(kind.deleteEvent, req.ClientID, res)
	if err != nil {
		return nil, err
	}
	if err := h.flush(ctx, st, doc, subs, ev); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateMetrics replaces the metrics payload against metricsVersion.
func (h *Hub) UpdateMetrics(ctx context.Context, projectID string, req MetricsRequest) (*EntityState, error) {
	projectID = SanitizeProjectID(projectID)
	canon, err := entity.NormalizeObject(req.Metrics)
	if err != nil {
		return nil, &entity.PayloadError{Message: "metrics must be a JSON object"}
	}

	st, _, err := h.resident(ctx, projectID, true)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if req.BaseVersion != st.metricsVersion {
		res := st.metricsState()
		h.mu.Unlock()
		return nil, &ConflictError{Entity: res}
	}
	if bytes.Equal(st.metrics, canon) {
		res := st.metricsState()
		h.mu.Unlock()
		return res, nil
	}
	st.metrics = canon
	st.metricsVersion++
	st.version++
	st.updatedAt = now()
	res := st.metricsState()
	doc := st.document()
	subs := st.subscribers()
	h.mu.Unlock()

	ev, err := entityEvent(EventMetricsUpdate, req.ClientID, res)
	if err != nil {
		return nil, err
	}
	if err := h.flush(ctx, st, doc, subs, ev); err != nil {
		return nil, err
	}
	return res, nil
}

// ReplaceProject applies a full-snapshot PUT against projectVersion. Entity
// versions are reconciled id by id (new ids start at 1, identical bytes keep
// their version, changed bytes advance); a full snapshot always cuts a new
// project revision even when nothing changed.
func (h *Hub) ReplaceProject(ctx context.Context, projectID string, req ReplaceRequest) (*entity.Document, error) {
	projectID = SanitizeProjectID(projectID)
	glyphs, syntaxes, metrics, err := entity.NormalizeSnapshot(req.Glyphs, req.Syntaxes, req.Metrics)
	if err != nil {
		return nil, err
	}

	st, _, err := h.resident(ctx, projectID, true)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if req.BaseVersion != st.version {
		doc := st.document()
		h.mu.Unlock()
		return nil, &ConflictError{Document: doc}
	}
	st.glyphVersions = reconcileVersions(st.glyphs, glyphs, st.glyphVersions)
	st.syntaxVersions = reconcileVersions(st.syntaxes, syntaxes, st.syntaxVersions)
	st.glyphs = glyphs
	st.syntaxes = syntaxes
	if !bytes.Equal(st.metrics, metrics) {
		st.metricsVersion++
	}
	st.metrics = metrics
	st.version++
	st.updatedAt = now()
	doc := st.document()
	subs := st.subscribers()
	h.mu.Unlock()

	ev, err := snapshotEvent(req.ClientID, doc)
	if err != nil {
		return nil, err
	}
	if err := h.flush(ctx, st, doc, subs, ev); err != nil {
		return nil, err
	}
	return doc, nil
}

// reconcileVersions implements the full-snapshot rule. Ids absent from the
// incoming set fall away together with their versions.
func reconcileVersions(oldEntities, newEntities map[string]json.RawMessage, oldVersions map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(newEntities))
	for id, payload := range newEntities {
		prev, existed := oldEntities[id]
		switch {
		case !existed:
			out[id] = 1
		case bytes.Equal(prev, payload):
			v := oldVersions[id]
			if v < 1 {
				v = 1
			}
			out[id] = v
		default:
			out[id] = oldVersions[id] + 1
		}
	}
	return out
}

// resident returns the in-memory state for a project, loading the on-disk
// snapshot on first touch. The load runs outside the hub lock; insertion is
// double-checked. With create=false and no snapshot it reports ok=false and
// leaves the hub untouched.
func (h *Hub) resident(ctx context.Context, projectID string, create bool) (*state, bool, error) {
	h.mu.RLock()
	st, ok := h.projects[projectID]
	h.mu.RUnlock()
	if ok {
		return st, true, nil
	}

	doc, err := h.store.Load(projectID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("project", projectID).Msg("failed to load project snapshot")
		return nil, false, fmt.Errorf("load project %s: %w", projectID, err)
	}
	if doc == nil && !create {
		return nil, false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.projects[projectID]; ok {
		return st, true, nil
	}
	if doc != nil {
		loaded, err := stateFromDocument(doc)
		if err != nil {
			return nil, false, err
		}
		h.projects[projectID] = loaded
		return loaded, true, nil
	}
	fresh := newEmptyState(projectID)
	h.projects[projectID] = fresh
	return fresh, true, nil
}

// flush runs the I/O tail of a successful mutation: persist the cloned
// document, then offer the event to the subscriber snapshot. ioMu keeps disk
// writes and event order aligned with the version order produced under the
// hub lock; a clone that lost that race has been superseded and is skipped.
// On a persist failure the in-memory mutation stays applied and the caller
// surfaces a 500; clients refetch.
func (h *Hub) flush(ctx context.Context, st *state, doc *entity.Document, subs []*Subscription, ev Event) error {
	st.ioMu.Lock()
	defer st.ioMu.Unlock()
	if doc.Version <= st.flushedVersion {
		return nil
	}
	if err := h.store.Save(doc); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("project", doc.Project).Msg("persist failed; in-memory state retained")
		return fmt.Errorf("persist project %s: %w", doc.Project, err)
	}
	st.flushedVersion = doc.Version
	h.publish(subs, ev)
	return nil
}

// publish offers an event to each subscriber without ever blocking the
// mutation path: a full queue loses its oldest event first; a queue that
// still will not accept is skipped for this event.
func (h *Hub) publish(subs []*Subscription, ev Event) {
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
			h.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}
