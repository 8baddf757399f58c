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

package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/NissesSenap/osa-web/pkg/command"
)

// OutputDirProvider hands out a scratch directory for a run's artifacts.
type OutputDirProvider interface {
	OutputDir(runID string) (string, error)
}

// Session owns the single RunState container of a deployment and makes sure
// at most one run uses it at a time.
type Session struct {
	coordinator *Coordinator
	builder     *command.Builder
	dirs        OutputDirProvider
	publish     Publisher
	logger      logr.Logger
	newID       func() string

	mu       sync.Mutex
	state    *RunState
	last     *RunState
	inFlight bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionPublisher forwards every snapshot to p after the session recorded it.
func WithSessionPublisher(p Publisher) SessionOption {
	return func(s *Session) { s.publish = p }
}

// WithOutputDirs sets where per-run output directories come from. Without it
// the caller must set RunConfiguration.OutputDirectory.
func WithOutputDirs(d OutputDirProvider) SessionOption {
	return func(s *Session) { s.dirs = d }
}

// WithCoordinatorOptions configures the Coordinator the session runs.
func WithCoordinatorOptions(opts ...Option) SessionOption {
	return func(s *Session) {
		s.coordinator = NewCoordinator(append(opts, WithPublisher(s.record))...)
		s.logger = s.coordinator.logger
	}
}

// WithIDGenerator overrides run ID generation (useful for testing).
func WithIDGenerator(f func() string) SessionOption {
	return func(s *Session) { s.newID = f }
}

// NewSession creates a Session building invocations with builder.
func NewSession(builder *command.Builder, opts ...SessionOption) *Session {
	s := &Session{
		builder: builder,
		logger:  logr.Discard(),
		newID:   uuid.NewString,
		done:    closedChan(),
	}
	s.coordinator = NewCoordinator(WithPublisher(s.record))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Launch validates cfg and starts a run in the background. It returns the
// new run's ID, a *command.ConfigurationError for invalid input, or
// ErrRunInProgress while a previous run is still in flight.
func (s *Session) Launch(ctx context.Context, cfg command.RunConfiguration) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return "", ErrRunInProgress
	}

	id := s.newID()
	if cfg.OutputDirectory == "" {
		if s.dirs == nil {
			return "", &command.ConfigurationError{Field: "outputDirectory", Reason: "output directory is required"}
		}
		dir, err := s.dirs.OutputDir(id)
		if err != nil {
			return "", fmt.Errorf("preparing output directory: %w", err)
		}
		cfg.OutputDirectory = dir
	}
	spec := s.builder.Build(cfg)

	if s.state == nil {
		s.state = NewRunState(id)
	}
	state := s.state
	state.reset()
	state.ID = id
	state.Phase = PhasePending
	state.OutputDirectory = cfg.OutputDirectory

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.inFlight = true
	s.cancel = cancel
	s.done = done
	pending := state.Snapshot()
	s.last = &pending
	// Subscribers learn the ID from Launch's return, so the pending state is
	// published before Launch returns.
	if s.publish != nil {
		s.publish(pending)
	}

	log := s.logger.WithValues("runID", id)
	log.Info("launching run", "repositoryUrl", cfg.RepositoryURL, "mode", cfg.Mode, "outputDirectory", cfg.OutputDirectory)

	go func() {
		defer close(done)
		defer cancel()
		if err := s.coordinator.Run(runCtx, state, spec); err != nil {
			log.Error(err, "run ended with error")
		}
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	return id, nil
}

// Cancel stops the in-flight run with the given ID and terminates its process.
func (s *Session) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil || s.last.ID != id {
		return ErrUnknownRun
	}
	if !s.inFlight {
		return ErrRunFinished
	}
	s.cancel()
	return nil
}

// Snapshot returns the latest published state of the current run.
func (s *Session) Snapshot() (RunState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return RunState{}, false
	}
	return *s.last, true
}

// InFlight reports whether a run is currently active.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Done returns a channel closed when the current run (if any) has finished.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Shutdown cancels any in-flight run and waits for it to finalize.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.cancel()
	}
	s.mu.Unlock()
	return s.Wait(ctx)
}

// Wait blocks until the current run (if any) has finished or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) record(snap RunState) {
	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	if s.publish != nil {
		s.publish(snap)
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
