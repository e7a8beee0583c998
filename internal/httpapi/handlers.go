package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/typehaus/glyphhub/internal/entity"
	"github.com/typehaus/glyphhub/internal/hub"
)

// mutationEnvelope carries the fields common to every mutating request.
// BaseVersion is a pointer so a missing field is distinguishable from 0 and
// rejected with a 400.
type mutationEnvelope struct {
	ClientID    string `json:"clientId"`
	BaseVersion *int64 `json:"baseVersion"`
}

type replaceProjectRequest struct {
	mutationEnvelope
	Glyphs   json.RawMessage `json:"glyphs"`
	Syntaxes json.RawMessage `json:"syntaxes"`
	Metrics  json.RawMessage `json:"metrics"`
}

type upsertGlyphRequest struct {
	mutationEnvelope
	Glyph json.RawMessage `json:"glyph"`
}

type upsertSyntaxRequest struct {
	mutationEnvelope
	Syntax json.RawMessage `json:"syntax"`
}

type deleteEntityRequest struct {
	mutationEnvelope
	ID string `json:"id"`
}

type updateMetricsRequest struct {
	mutationEnvelope
	Metrics json.RawMessage `json:"metrics"`
}

// decodeBody decodes a JSON request body with the 20 MiB cap and unknown
// fields rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func projectParam(r *http.Request) string {
	return r.URL.Query().Get("project")
}

// writeMutationError maps hub and codec failures onto the HTTP status
// contract: 400 invalid payload, 409 conflict with the authoritative state,
// 404 unknown project, 500 everything else.
func writeMutationError(w http.ResponseWriter, r *http.Request, err error) {
	var payloadErr *entity.PayloadError
	var conflict *hub.ConflictError
	switch {
	case errors.As(err, &payloadErr):
		writeError(w, http.StatusBadRequest, payloadErr.Message)
	case errors.As(err, &conflict):
		if conflict.Document != nil {
			writeJSON(w, http.StatusConflict, conflict.Document)
		} else {
			writeJSON(w, http.StatusConflict, conflict.Entity)
		}
	case errors.Is(err, hub.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleGetProject handles GET /api/project?project=ID.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Hub.Get(r.Context(), projectParam(r))
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleReplaceProject handles PUT /api/project?project=ID (full snapshot).
func (s *Server) handleReplaceProject(w http.ResponseWriter, r *http.Request) {
	var req replaceProjectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BaseVersion == nil {
		writeError(w, http.StatusBadRequest, "baseVersion is required")
		return
	}
	doc, err := s.Hub.ReplaceProject(r.Context(), projectParam(r), hub.ReplaceRequest{
		ClientID:    req.ClientID,
		BaseVersion: *req.BaseVersion,
		Glyphs:      req.Glyphs,
		Syntaxes:    req.Syntaxes,
		Metrics:     req.Metrics,
	})
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleUpsertGlyph handles PUT /api/glyph.
func (s *Server) handleUpsertGlyph(w http.ResponseWriter, r *http.Request) {
	var req upsertGlyphRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BaseVersion == nil {
		writeError(w, http.StatusBadRequest, "baseVersion is required")
		return
	}
	res, err := s.Hub.UpsertGlyph(r.Context(), projectParam(r), hub.UpsertRequest{
		ClientID:    req.ClientID,
		BaseVersion: *req.BaseVersion,
		Payload:     req.Glyph,
	})
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteGlyph handles DELETE /api/glyph.
func (s *Server) handleDeleteGlyph(w http.ResponseWriter, r *http.Request) {
	var req deleteEntityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BaseVersion == nil {
		writeError(w, http.StatusBadRequest, "baseVersion is required")
		return
	}
	res, err := s.Hub.DeleteGlyph(r.Context(), projectParam(r), hub.DeleteRequest{
		ClientID:    req.ClientID,
		BaseVersion: *req.BaseVersion,
		ID:          req.ID,
	})
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUpsertSyntax handles PUT /api/syntax.
func (s *Server) handleUpsertSyntax(w http.ResponseWriter, r *http.Request) {
	var req upsertSyntaxRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BaseVersion == nil {
		writeError(w, http.StatusBadRequest, "baseVersion is required")
		return
	}
	res, err := s.Hub.UpsertSyntax(r.Context(), projectParam(r), hub.UpsertRequest{
		ClientID:    req.ClientID,
		BaseVersion: *req.BaseVersion,
		Payload:     req.Syntax,
	})
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteSyntax handles DELETE /api/syntax.
func (s *Server) handleDeleteSyntax(w http.ResponseWriter, r *http.Request) {
	var req deleteEntityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BaseVersion == nil {
		writeError(w, http.StatusBadRequest, "baseVersion is required")
		return
	}
	res, err := s.Hub.DeleteSyntax(r.Context(), projectParam(r), hub.DeleteRequest{
		ClientID:    req.ClientID,
		BaseVersion: *req.BaseVersion,
		ID:          req.ID,
	})
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUpdateMetrics handles PUT /api/metrics.
func (s *Server) handleUpdateMetrics(w http.ResponseWriter, r *http.Request) {
	var req updateMetricsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BaseVersion == nil {
		writeError(w, http.StatusBadRequest, "baseVersion is required")
		return
	}
	res, err := s.Hub.UpdateMetrics(r.Context(), projectParam(r), hub.MetricsRequest{
		ClientID:    req.ClientID,
		BaseVersion: *req.BaseVersion,
		Metrics:     req.Metrics,
	})
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListProjects handles GET /api/projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	infos, err := s.Hub.ListProjects(r.Context())
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": infos})
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"droppedEvents": s.Hub.DroppedEvents(),
	})
}

// handleInfo serves a small service banner on / when no UI directory is
// configured.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "glyphhub",
		"status":  "ok",
	})
}
