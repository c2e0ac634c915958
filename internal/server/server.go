package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	domain "gitstars/internal/domain/stats"
)

// StatsProvider is what the handlers need from the orchestrator.
type StatsProvider interface {
	Repository(ctx context.Context, owner, name string) (domain.RepositoryStats, error)
	User(ctx context.Context, login string) (domain.UserStats, error)
	Quota(ctx context.Context) (domain.QuotaState, error)
	Counts(ctx context.Context) (repos int64, users int64, err error)
}

type Config struct {
	Addr string

	// PayloadExpiry feeds the Expires header on successful stats
	// responses; zero disables the header.
	PayloadExpiry time.Duration
}

// Server is the HTTP surface: thin routing and response shaping around the
// stats service, no caching logic of its own.
type Server struct {
	cfg      Config
	provider StatsProvider
	httpSrv  *http.Server
}

func New(cfg Config, provider StatsProvider) *Server {
	return &Server{cfg: cfg, provider: provider}
}

// Handler builds the chi router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/ping", http.StatusTemporaryRedirect)
	})
	r.Get("/ping", s.handlePing)
	r.Get("/ratelimit", s.handleRateLimit)
	r.Get("/stats", s.handleCounts)
	r.Get("/repos/{owner}/{repository}", s.handleRepository)
	r.Get("/users/{login}", s.handleUser)

	return r
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
