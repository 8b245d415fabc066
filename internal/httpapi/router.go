// Package httpapi is the inbound HTTP surface: the Gupshup webhook
// ingest endpoint, the liveness probe and the metrics scrape.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/awerhq/wpp-webhooks/internal/metrics"
	"github.com/awerhq/wpp-webhooks/internal/rawstore"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-GUPSHUP-SECRET"

// RawInserter is the slice of the raw store the ingest path needs.
type RawInserter interface {
	Insert(ctx context.Context, p rawstore.InsertParams) (bool, error)
}

// Server holds dependencies for HTTP handlers
type Server struct {
	Secret       []byte
	Store        RawInserter
	VerboseLogs  bool
	PreviewChars int
}

// Routes creates the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	r.Method("GET", "/metrics", metrics.Handler())

	r.Post("/webhooks/gupshup/{appID}/events", s.HandleWebhook)

	log.Info().Msg("HTTP routes registered")
	return r
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}
