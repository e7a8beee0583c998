package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/typehaus/glyphhub/internal/hub"
)

// heartbeatInterval spaces the SSE comment pings that keep intermediaries
// from closing idle streams.
const heartbeatInterval = 20 * time.Second

// handleEvents handles GET /api/events?project=ID: a long-lived SSE stream.
// An existing project opens with one snapshot event; every event carries an
// id line equal to the projectVersion that produced it, which reconnecting
// clients compare against their local state. Mid-stream write failures end
// the subscription silently.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	projectID := hub.SanitizeProjectID(projectParam(r))
	doc, existed, sub, err := s.Hub.Subscribe(r.Context(), projectID)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("project", projectID).Msg("subscribe failed")
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer s.Hub.Unsubscribe(projectID, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeEvent := func(ev hub.Event) error {
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, ev.Data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if existed {
		ev, err := hub.SnapshotEvent(doc)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Str("project", projectID).Msg("snapshot event failed")
			return
		}
		if writeEvent(ev) != nil {
			return
		}
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": ping %d\n\n", time.Now().UnixNano()); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sub.C():
			if writeEvent(ev) != nil {
				return
			}
		}
	}
}
