/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api serves the browser front end of osa-web: run launch and
// cancellation, live transcript streaming over WebSocket, report download
// and the GitHub helpers shown next to the launch form.
package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-logr/logr"
	"github.com/yuin/goldmark"

	"github.com/NissesSenap/osa-web/pkg/command"
	"github.com/NissesSenap/osa-web/pkg/github"
	"github.com/NissesSenap/osa-web/pkg/runner"
)

// RunService launches and tracks the single run of the deployment.
type RunService interface {
	Launch(ctx context.Context, cfg command.RunConfiguration) (string, error)
	Cancel(id string) error
	Snapshot() (runner.RunState, bool)
}

// AttachmentStore persists uploaded article files.
type AttachmentStore interface {
	SaveAttachment(name string, r io.Reader) (string, error)
	// AttachmentDir is where saved attachments live. File attachments of a
	// run must resolve inside it.
	AttachmentDir() string
}

// GitHubService answers token and repository questions.
type GitHubService interface {
	Login(ctx context.Context) (string, error)
	Repository(ctx context.Context, rawURL string) (*github.Repository, error)
}

// Options configures the API server.
type Options struct {
	ListenAddr string
	// LaunchRateLimit is the number of launches allowed per client IP per
	// minute. Zero disables rate limiting.
	LaunchRateLimit int
	ShutdownTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	opts        Options
	runs        RunService
	hub         *EventHub
	attachments AttachmentStore
	github      GitHubService
	token       string
	ready       func() error
	logger      logr.Logger
	markdown    goldmark.Markdown
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(l logr.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithAttachments enables POST /api/v1/attachments.
func WithAttachments(store AttachmentStore) ServerOption {
	return func(s *Server) { s.attachments = store }
}

// WithGitHub sets the token handed to runs and the client used to inspect it.
func WithGitHub(svc GitHubService, token string) ServerOption {
	return func(s *Server) {
		s.github = svc
		s.token = token
	}
}

// WithReadyCheck sets the function backing /readyz.
func WithReadyCheck(f func() error) ServerOption {
	return func(s *Server) { s.ready = f }
}

// NewServer creates a Server for runs whose events are published to hub.
func NewServer(opts Options, runs RunService, hub *EventHub, sopts ...ServerOption) *Server {
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		opts:     opts,
		runs:     runs,
		hub:      hub,
		logger:   logr.Discard(),
		markdown: goldmark.New(),
	}
	for _, o := range sopts {
		o(s)
	}
	return s
}

// requireContentType rejects mutating requests whose media type is not mediaType.
func requireContentType(mediaType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mt != mediaType {
					writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Content-Type must be %s", mediaType), "")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if s.ready != nil {
			if err := s.ready(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/", serveIndex)

	r.Route("/api/v1", func(r chi.Router) {
		launch := r.With(requireContentType("application/json"))
		if s.opts.LaunchRateLimit > 0 {
			launch = launch.With(httprate.LimitByIP(s.opts.LaunchRateLimit, time.Minute))
		}
		launch.Post("/runs", s.launchRun)

		r.Get("/runs/current", s.getCurrentRun)
		r.Delete("/runs/{runID}", s.cancelRun)
		r.Get("/runs/{runID}/events", s.streamEvents)
		r.Get("/runs/{runID}/report", s.downloadReport)

		r.With(requireContentType("multipart/form-data")).Post("/attachments", s.uploadAttachment)

		r.Get("/github/token", s.getTokenStatus)
		r.Get("/github/repository", s.getRepository)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := s.logger

	srv := &http.Server{
		Addr:        s.opts.ListenAddr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: event streams stay open for the whole run.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting API server", "addr", s.opts.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}
