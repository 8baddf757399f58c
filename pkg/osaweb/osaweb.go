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

// Package osaweb wires the osa-web components together and runs them as
// modules under one errgroup.
package osaweb

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/NissesSenap/osa-web/pkg/api"
	"github.com/NissesSenap/osa-web/pkg/command"
	"github.com/NissesSenap/osa-web/pkg/github"
	"github.com/NissesSenap/osa-web/pkg/runner"
	"github.com/NissesSenap/osa-web/pkg/storage"
)

// Module represents a runnable component.
type Module interface {
	Name() string
	Run(ctx context.Context) error
}

// OSAWeb orchestrates all modules.
type OSAWeb struct {
	cfg       Config
	log       logr.Logger
	workspace *storage.Workspace
	session   *runner.Session
	modules   []Module
}

// Option configures OSAWeb.
type Option func(*options)

type options struct {
	launcher runner.Launcher
}

// WithLauncher replaces the process launcher (useful for testing).
func WithLauncher(l runner.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// New builds every component from cfg.
func New(cfg Config, log logr.Logger, opts ...Option) (*OSAWeb, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ws, err := storage.New(cfg.WorkDir,
		storage.WithMaxAttachmentSize(cfg.MaxAttachmentSize),
		storage.WithLogger(log.WithName("storage")),
	)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}

	token, err := github.LoadToken(log.WithName("github"), cfg.EnvFiles...)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("loading token: %w", err)
	}
	gh, err := github.NewClient(token, cfg.GitHubAPIURL)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}

	coordOpts := []runner.Option{
		runner.WithLogger(log.WithName("runner")),
		runner.WithIdleTimeout(cfg.IdleTimeout),
	}
	if o.launcher != nil {
		coordOpts = append(coordOpts, runner.WithLauncher(o.launcher))
	}

	hub := api.NewEventHub()
	publisher := api.NewHubPublisher(hub)
	session := runner.NewSession(
		command.NewBuilder(command.WithProgram(cfg.Program), command.WithColumns(cfg.Columns)),
		runner.WithCoordinatorOptions(coordOpts...),
		runner.WithSessionPublisher(publisher.Publish),
		runner.WithOutputDirs(ws),
	)

	program := cfg.Program
	server := api.NewServer(api.Options{
		ListenAddr:      cfg.ListenAddr,
		LaunchRateLimit: cfg.LaunchRateLimit,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, session, hub,
		api.WithLogger(log.WithName("api")),
		api.WithAttachments(ws),
		api.WithGitHub(gh, token),
		api.WithReadyCheck(func() error {
			if _, err := exec.LookPath(program); err != nil {
				return fmt.Errorf("%s not available: %w", program, err)
			}
			return nil
		}),
	)

	w := &OSAWeb{
		cfg:       cfg,
		log:       log,
		workspace: ws,
		session:   session,
	}
	w.modules = []Module{
		&apiModule{server: server},
		&sessionModule{session: session, timeout: cfg.ShutdownTimeout, log: log.WithName("session")},
	}
	if cfg.RetainFor > 0 && cfg.PruneInterval > 0 {
		w.modules = append(w.modules, &janitorModule{
			workspace: ws,
			session:   session,
			retainFor: cfg.RetainFor,
			interval:  cfg.PruneInterval,
			log:       log.WithName("janitor"),
		})
	}
	return w, nil
}

// Session returns the run session.
func (w *OSAWeb) Session() *runner.Session { return w.session }

// Run starts all modules and blocks until ctx is cancelled or a module fails.
// The workspace is closed afterwards.
func (w *OSAWeb) Run(ctx context.Context) error {
	defer func() {
		if err := w.workspace.Close(); err != nil {
			w.log.Error(err, "failed to remove workspace", "root", w.workspace.Root())
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range w.modules {
		g.Go(func() error {
			w.log.Info("starting module", "module", m.Name())
			if err := m.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", m.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

type apiModule struct {
	server *api.Server
}

func (m *apiModule) Name() string                  { return "api" }
func (m *apiModule) Run(ctx context.Context) error { return m.server.Run(ctx) }

// sessionModule cancels any in-flight run on shutdown and waits for it to
// finalize so the child process is not orphaned.
type sessionModule struct {
	session *runner.Session
	timeout time.Duration
	log     logr.Logger
}

func (m *sessionModule) Name() string { return "session" }

func (m *sessionModule) Run(ctx context.Context) error {
	<-ctx.Done()
	if m.session.InFlight() {
		m.log.Info("cancelling in-flight run")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.session.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("waiting for run to finish: %w", err)
	}
	return nil
}

// janitorModule periodically removes old run outputs and attachments.
type janitorModule struct {
	workspace *storage.Workspace
	session   *runner.Session
	retainFor time.Duration
	interval  time.Duration
	log       logr.Logger
}

func (m *janitorModule) Name() string { return "janitor" }

func (m *janitorModule) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.prune()
		}
	}
}

func (m *janitorModule) prune() {
	// The running run's directory may be older than retainFor.
	if m.session.InFlight() {
		m.log.V(1).Info("skipping prune while a run is in flight")
		return
	}
	n, err := m.workspace.Prune(m.retainFor)
	if err != nil {
		m.log.Error(err, "prune failed")
	}
	if n > 0 {
		m.log.Info("pruned workspace", "removed", n)
	}
}
