// Package server exposes query sessions over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/deepnoodle-ai/queryflow/metrics"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultTimeout bounds a single query call when Options.Timeout is unset.
const DefaultTimeout = 2 * time.Minute

// Engine is the part of queryflow.Engine the server depends on.
type Engine interface {
	Handle(ctx context.Context, req queryflow.Request) (*queryflow.Result, error)
	Session(ctx context.Context, sessionID string) (*queryflow.Checkpoint, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]*queryflow.SessionSummary, error)
	StageHistory(ctx context.Context, sessionID string) ([]*queryflow.StageLogEntry, error)
}

// Options configures a Server.
type Options struct {
	Engine      Engine
	Logger      *slog.Logger
	CORSOrigins []string
	Timeout     time.Duration

	// Sentry enables the Sentry middleware. sentry.Init must have been
	// called by the caller.
	Sentry bool
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine  Engine
	logger  *slog.Logger
	timeout time.Duration
	router  chi.Router
}

// New returns a server with its routes mounted.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = queryflow.NewDiscardLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{
		engine:  opts.Engine,
		logger:  opts.Logger,
		timeout: opts.Timeout,
	}
	s.router = s.routes(opts)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	// Sentry sits before Recoverer so panics are captured and then re-raised.
	if opts.Sentry {
		sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
		r.Use(sentryHandler.Handle)
		r.Use(transactionName)
	}
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sessions/{id}/stages", s.handleStageHistory)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// transactionName names the Sentry transaction after the chi route pattern.
func transactionName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if txn := sentry.TransactionFromContext(r.Context()); txn != nil {
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				txn.Name = r.Method + " " + rctx.RoutePattern()
			}
		}
	})
}
