package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"gitstars/internal/bootstrap/logging"
	domain "gitstars/internal/domain/stats"
	"gitstars/internal/errs"
)

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

type repositoryResponse struct {
	Status string `json:"status"`
	domain.RepositoryStats
}

type userResponse struct {
	Status string `json:"status"`
	domain.UserStats
}

type rateLimitResponse struct {
	Status    string `json:"status"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Reset     int64  `json:"reset"`
}

type countsResponse struct {
	Status       string `json:"status"`
	Repositories int64  `json:"repositories"`
	Users        int64  `json:"users"`
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, req *http.Request) {
	quota, err := s.provider.Quota(req.Context())
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	writeJSON(w, http.StatusOK, rateLimitResponse{
		Status:    "ok",
		Limit:     quota.Limit,
		Remaining: quota.Remaining,
		Reset:     quota.ResetAt.Unix(),
	})
}

func (s *Server) handleCounts(w http.ResponseWriter, req *http.Request) {
	repos, users, err := s.provider.Counts(req.Context())
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	writeJSON(w, http.StatusOK, countsResponse{Status: "ok", Repositories: repos, Users: users})
}

func (s *Server) handleRepository(w http.ResponseWriter, req *http.Request) {
	owner := chi.URLParam(req, "owner")
	repository := chi.URLParam(req, "repository")

	payload, err := s.provider.Repository(req.Context(), owner, repository)
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	// The payload carries GitHub's canonical naming; send callers there
	// when they arrived under a different casing or a pre-rename name.
	if payload.Owner != owner || payload.Repository != repository {
		canonical := fmt.Sprintf("/repos/%s/%s", url.PathEscape(payload.Owner), url.PathEscape(payload.Repository))
		http.Redirect(w, req, canonical, http.StatusMovedPermanently)
		return
	}

	s.setCacheHeaders(w)
	writeJSON(w, http.StatusOK, repositoryResponse{Status: "ok", RepositoryStats: payload})
}

func (s *Server) handleUser(w http.ResponseWriter, req *http.Request) {
	login := chi.URLParam(req, "login")

	payload, err := s.provider.User(req.Context(), login)
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	if payload.Login != login {
		http.Redirect(w, req, "/users/"+url.PathEscape(payload.Login), http.StatusMovedPermanently)
		return
	}

	s.setCacheHeaders(w)
	writeJSON(w, http.StatusOK, userResponse{Status: "ok", UserStats: payload})
}

func (s *Server) setCacheHeaders(w http.ResponseWriter) {
	// A month of max-stale: clients may keep serving old payloads far past
	// freshness, mirroring the server's own stale-serving stance.
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-stale=%d", 60*60*24*30))
	if s.cfg.PayloadExpiry > 0 {
		w.Header().Set("Expires", time.Now().UTC().Add(s.cfg.PayloadExpiry).Format(http.TimeFormat))
	}
}

func (s *Server) writeError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Details: "subject not found"})
	case errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, domain.ErrUpstream),
		errors.Is(err, domain.ErrStoreUnavailable):
		logging.Warn(req.Context(), "request failed", slog.Any("err", errs.Loggable(err)))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: "error", Details: "temporarily unavailable"})
	default:
		logging.Error(req.Context(), "request failed", slog.Any("err", errs.Loggable(err)))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Details: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
