// Copyright 2025 The Gateway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport is the HTTP + WebSocket surface: REST endpoints for
// auth, ingestion and querying, and the /ws/query streaming endpoint.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ragline/gateway/internal/docstore"
	"github.com/ragline/gateway/internal/ingest"
	"github.com/ragline/gateway/internal/observability"
	"github.com/ragline/gateway/internal/orchestrator"
	"github.com/ragline/gateway/internal/session"
)

// Per-endpoint-class deadlines.
const (
	queryDeadline       = 60 * time.Second
	ingestDeadline      = 300 * time.Second
	fullReindexDeadline = 30 * time.Minute
)

// Server is the transport surface: an HTTP server exposing the REST
// endpoints and the /ws/query WebSocket endpoint.
type Server struct {
	router       chi.Router
	httpServer   *http.Server
	sessions     *session.Gate
	orchestrator *orchestrator.Orchestrator
	pipeline     *ingest.Pipeline
	docs         *docstore.Store
	metrics      *observability.Metrics
}

// New wires every dependency into a chi router and returns a Server ready
// for ListenAndServe via Serve.
func New(addr string, sessions *session.Gate, orch *orchestrator.Orchestrator, pipeline *ingest.Pipeline, docs *docstore.Store, metrics *observability.Metrics) *Server {
	s := &Server{
		sessions:     sessions,
		orchestrator: orch,
		pipeline:     pipeline,
		docs:         docs,
		metrics:      metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleHealthReady)
	r.Get("/metrics", s.handleMetrics)

	r.Post("/login", s.handleLogin)
	// handleWSQuery resolves its own session so that a session without an
	// organization gets a 1008 close after the upgrade, not an HTTP 403.
	r.Get("/ws/query", s.handleWSQuery)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/logout", s.handleLogout)
		r.Get("/files/list", s.handleFilesList)
		r.Get("/files/content/{filename}", s.handleFilesContent)
		r.Post("/query", s.withDeadline(queryDeadline, s.handleQuery))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Use(s.requireAdmin)
		r.Post("/upload", s.withDeadline(ingestDeadline, s.handleUpload))
		r.Delete("/files/delete_by_fileid", s.handleFilesDelete)
		r.Post("/reindex/full", s.withDeadline(fullReindexDeadline, s.handleReindexFull))
		r.Post("/reindex/file/{filename}", s.withDeadline(ingestDeadline, s.handleReindexFile))
	})

	s.router = r
	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// ServeHTTP lets Server stand in for http.Handler directly, e.g. in tests
// with httptest.NewServer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve blocks, serving HTTP until the process is terminated.
func (s *Server) Serve() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// withDeadline wraps handler so its context carries an absolute deadline.
// Deadlines propagate to every downstream call because the orchestrator
// and pipeline thread ctx through to the indexes and the LLM adapter.
func (s *Server) withDeadline(d time.Duration, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		handler(w, r.WithContext(ctx))
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.RecordHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}
