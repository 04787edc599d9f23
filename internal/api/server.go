// Package api exposes the daemon's HTTP surface: poster listing and detail,
// manual submission, delete-all, daemon status, and the realtime status
// WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bandaid/internal/account"
	"bandaid/internal/enrichment"
	"bandaid/internal/logging"
	"bandaid/internal/registry"
	"bandaid/internal/services"
	"bandaid/internal/services/catalog"
)

// Status is the daemon status payload.
type Status struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	DataDir      string           `json:"dataDir"`
	LockFilePath string           `json:"lockFilePath"`
	Runs         enrichment.Stats `json:"runs"`
}

// StatusFunc reports the current daemon status.
type StatusFunc func(ctx context.Context) (Status, error)

// Deps carries the server's collaborators.
type Deps struct {
	Registry *registry.Registry
	Accounts *account.Manager
	Status   StatusFunc
	Logger   *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	bind     string
	registry *registry.Registry
	accounts *account.Manager
	status   StatusFunc
	logger   *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer constructs the API server bound to bind.
func NewServer(bind string, deps Deps) *Server {
	srv := &Server{
		bind:     bind,
		registry: deps.Registry,
		accounts: deps.Accounts,
		status:   deps.Status,
		logger:   logging.NewComponentLogger(deps.Logger, "api"),
	}
	srv.server = &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Routes builds the router. Exposed so tests can mount it on httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/status", s.handleStatus)
	r.Post("/api/account", s.handleLinkAccount)
	r.Route("/api/posters", func(r chi.Router) {
		r.Get("/", s.handleListPosters)
		r.Post("/", s.handleSubmitPoster)
		r.Delete("/", s.handleDeleteAllPosters)
		r.Get("/{slug}", s.handlePosterDetail)
		r.Get("/{slug}/ws", s.handlePosterFeed)
	})
	return r
}

// Start begins serving until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, allowing in-flight requests a grace period.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	status, err := s.status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListPosters(w http.ResponseWriter, r *http.Request) {
	listings, err := s.registry.ListPosters(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if listings == nil {
		listings = []registry.Listing{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"posters": listings})
}

type submitRequest struct {
	ImageRef string `json:"imageRef"`
}

func (s *Server) handleSubmitPoster(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ImageRef == "" {
		s.writeError(w, http.StatusBadRequest, "imageRef is required")
		return
	}

	slug, err := s.registry.SubmitPoster(r.Context(), req.ImageRef)
	if err != nil {
		switch {
		case services.IsConflict(err):
			s.writeError(w, http.StatusConflict, err.Error())
		case services.IsNotFound(err):
			s.writeError(w, http.StatusUnprocessableEntity, "no usable metadata in image")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"slug": slug})
}

type linkAccountRequest struct {
	Profile catalog.Profile `json:"profile"`
	Token   catalog.Token   `json:"token"`
}

// handleLinkAccount stores the profile and token pair obtained from the
// catalog's OAuth flow, which runs outside the daemon. Re-linking an already
// linked account replaces its credentials.
func (s *Server) handleLinkAccount(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		s.writeError(w, http.StatusServiceUnavailable, "account linking unavailable")
		return
	}
	var req linkAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Profile.ID == "" || req.Token.AccessToken == "" || req.Token.RefreshToken == "" {
		s.writeError(w, http.StatusBadRequest, "profile.id, token.access_token and token.refresh_token are required")
		return
	}

	acct, err := s.accounts.GetOrCreate(r.Context(), req.Profile.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := acct.Initialize(r.Context(), req.Profile, req.Token); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("catalog account linked", logging.String("account_id", req.Profile.ID))
	s.writeJSON(w, http.StatusCreated, map[string]string{"accountId": req.Profile.ID})
}

func (s *Server) handleDeleteAllPosters(w http.ResponseWriter, r *http.Request) {
	deleted, failed, err := s.registry.DeleteAllPosters(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted, "failed": failed})
}

func (s *Server) handlePosterDetail(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	agent, err := s.registry.GetPoster(r.Context(), slug)
	if err != nil {
		if services.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "poster not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	detail, err := agent.Detail(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response failed", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
