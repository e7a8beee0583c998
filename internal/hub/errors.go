package hub

import (
	"errors"
	"fmt"

	"github.com/typehaus/glyphhub/internal/entity"
)

// ErrNotFound reports a read of a project that has never been created.
var ErrNotFound = errors.New("project not found")

// ConflictError reports a baseVersion mismatch. Exactly one of Entity or
// Document carries the authoritative current state for the 409 body:
// Entity for the single-entity operations, Document for full-snapshot
// replaces.
type ConflictError struct {
	Entity   *EntityState
	Document *entity.Document
}

func (e *ConflictError) Error() string {
	if e.Document != nil {
		return fmt.Sprintf("version conflict on project %s (current %d)", e.Document.Project, e.Document.Version)
	}
	return fmt.Sprintf("version conflict on %s %s (current %d)", e.Entity.Entity, e.Entity.EntityID, e.Entity.Version)
}
