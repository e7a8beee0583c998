package hub

import (
	"encoding/json"

	"github.com/typehaus/glyphhub/internal/entity"
)

// SSE event types fanned out to subscribers.
const (
	EventSnapshot      = "snapshot"
	EventGlyphUpsert   = "glyph_upsert"
	EventGlyphDelete   = "glyph_delete"
	EventSyntaxUpsert  = "syntax_upsert"
	EventSyntaxDelete  = "syntax_delete"
	EventMetricsUpdate = "metrics_update"
)

// QueueCapacity bounds each subscriber mailbox. A subscriber that falls more
// than this far behind starts losing its oldest events.
const QueueCapacity = 32

// Event is one fan-out unit: the SSE event type, the projectVersion that
// produced it (emitted as the SSE id line), and the payload marshaled once at
// publish time.
type Event struct {
	Type string
	Seq  int64
	Data []byte
}

// Subscription is the bounded mailbox attached to one SSE connection.
type Subscription struct {
	ch chan Event
}

// C is the receive side drained by the SSE writer.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

type snapshotEventPayload struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	entity.Document
}

type entityEventPayload struct {
	Type           string          `json:"type"`
	Project        string          `json:"project"`
	ClientID       string          `json:"clientId,omitempty"`
	ID             string          `json:"id,omitempty"`
	Version        int64           `json:"version"`
	Deleted        bool            `json:"deleted,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ProjectVersion int64           `json:"projectVersion"`
	UpdatedAt      string          `json:"updatedAt"`
}

// SnapshotEvent wraps a document as the snapshot event the SSE handler sends
// on subscribe to an existing project.
func SnapshotEvent(doc *entity.Document) (Event, error) {
	return snapshotEvent("", doc)
}

func snapshotEvent(clientID string, doc *entity.Document) (Event, error) {
	data, err := json.Marshal(snapshotEventPayload{
		Type:     EventSnapshot,
		ClientID: clientID,
		Document: *doc,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventSnapshot, Seq: doc.Version, Data: data}, nil
}

func entityEvent(eventType, clientID string, res *EntityState) (Event, error) {
	data, err := json.Marshal(entityEventPayload{
		Type:           eventType,
		Project:        res.Project,
		ClientID:       clientID,
		ID:             res.EntityID,
		Version:        res.Version,
		Deleted:        res.Deleted,
		Payload:        res.Payload,
		ProjectVersion: res.ProjectVersion,
		UpdatedAt:      res.UpdatedAt,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Seq: res.ProjectVersion, Data: data}, nil
}
