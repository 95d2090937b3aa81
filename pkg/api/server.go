// Package api exposes digests, question answering, semantic search and the
// progress stream over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/testsabirweb/slack_digest/pkg/digest"
	"github.com/testsabirweb/slack_digest/pkg/models"
)

// DigestRunner generates digests.
type DigestRunner interface {
	GenerateDigest(ctx context.Context, start, end time.Time) (*digest.Result, error)
}

// ChannelLister lists workspace channels.
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
}

// ProfileLookup returns the recorded submissions of a profile.
type ProfileLookup interface {
	ProfileLinks(ctx context.Context, profileURL string) ([]models.Candidate, error)
}

// Deps are the services behind the routes. A nil service disables its
// routes with 503.
type Deps struct {
	Digest   DigestRunner
	Chat     Asker
	Search   Searcher
	Channels ChannelLister
	Profiles ProfileLookup
	Policy   *digest.ChannelPolicy
	Hub      *Hub

	// Location resolves request dates; defaults to UTC.
	Location *time.Location
	// APIToken, when set, is required as a bearer token on /api/v1.
	APIToken     string
	GeneratedFor string
	Logger       *slog.Logger
}

// Server represents the API server
type Server struct {
	router   *chi.Mux
	deps     Deps
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates a new API server instance
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	s := &Server{
		router:   chi.NewRouter(),
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   deps.Logger.With("component", "api"),
		now:      time.Now,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors)

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(deps.APIToken))
		r.Post("/digest", s.handleDigest)
		r.Post("/ask", s.handleAsk)
		r.Get("/search", s.handleSearch)
		r.Post("/search", s.handleSearch)
		r.Get("/channels", s.handleChannels)
		r.Get("/profiles", s.handleProfiles)
	})
	if deps.Hub != nil {
		s.router.Get("/ws", deps.Hub.ServeWS)
	}

	return s
}

// Router returns the HTTP handler for the server
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(started).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns the health status of the server
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "healthy",
		"service": "slack-digest",
	}
	if s.deps.Hub != nil {
		resp["stream_clients"] = s.deps.Hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
