package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/typehaus/glyphhub/internal/hub"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	Hub         *hub.Hub
	AllowOrigin string
	UIDir       string
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 20 << 20

// Routes creates the HTTP router with the full API surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/project", s.handleGetProject)
		r.Put("/project", s.handleReplaceProject)
		r.Put("/glyph", s.handleUpsertGlyph)
		r.Delete("/glyph", s.handleDeleteGlyph)
		r.Put("/syntax", s.handleUpsertSyntax)
		r.Delete("/syntax", s.handleDeleteSyntax)
		r.Put("/metrics", s.handleUpdateMetrics)
		r.Get("/projects", s.handleListProjects)
		r.Get("/events", s.handleEvents)
	})

	if s.UIDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.UIDir)))
	} else {
		r.Get("/", s.handleInfo)
	}

	log.Info().Msg("HTTP routes registered")
	return r
}

// corsMiddleware applies the CORS policy on every route: wildcard passes *
// through, an exact configured origin is echoed back with Vary: Origin, and
// preflight OPTIONS short-circuits with a 204. Last-Event-ID stays in the
// allow-list for reconnecting EventSource clients even though the stream
// resyncs via the opening snapshot rather than replay.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case s.AllowOrigin == "" || s.AllowOrigin == "*":
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin == s.AllowOrigin:
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Add("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
