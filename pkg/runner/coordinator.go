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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/go-logr/logr"

	"github.com/NissesSenap/osa-web/pkg/command"
	"github.com/NissesSenap/osa-web/pkg/extract"
)

// noOutputLine stands in for the last line when a failed run printed nothing.
const noOutputLine = "(no output)"

// Coordinator executes one InvocationSpec end-to-end and keeps a RunState
// current while doing so.
type Coordinator struct {
	launcher    Launcher
	extractors  []extract.Extractor
	logger      logr.Logger
	idleTimeout time.Duration
	publish     Publisher
	now         func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLauncher sets the process launcher (useful for testing).
func WithLauncher(l Launcher) Option {
	return func(c *Coordinator) { c.launcher = l }
}

// WithExtractors replaces the default line extractors.
func WithExtractors(ex ...extract.Extractor) Option {
	return func(c *Coordinator) { c.extractors = ex }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithIdleTimeout terminates the child when no output line arrives within d.
// Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.idleTimeout = d }
}

// WithPublisher sets the snapshot callback.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publish = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a Coordinator that launches real processes.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		launcher:   &ExecLauncher{},
		extractors: extract.Default(),
		logger:     logr.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// stopReason records why the read loop ended.
type stopReason int

const (
	stopEOF stopReason = iota
	stopCancelled
	stopIdle
)

// Run launches spec and drives state to a terminal phase. Results from any
// previous run held in state are cleared first. Non-zero exit, cancellation
// and idle timeout are modeled outcomes recorded in state; the returned error
// is non-nil only when the process could not be launched or the run broke
// down unexpectedly, in which case state ends in PhaseErrored.
func (c *Coordinator) Run(ctx context.Context, state *RunState, spec command.InvocationSpec) (err error) {
	log := c.logger.WithValues("runID", state.ID)

	state.reset()
	state.Phase = PhaseRunning
	state.StartedAt = c.now()

	var proc Process
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if proc != nil {
			_ = proc.Kill()
			_, _ = proc.Wait()
		}
		err = fmt.Errorf("run aborted: %v", r)
		log.Error(err, "OSA tool execution failed")
		state.Phase = PhaseErrored
		state.Error = err.Error()
		state.OutcomeMessage = launchFailureMessage(err)
		c.finishQuietly(state)
	}()

	proc, err = c.launcher.Start(ctx, spec)
	if err != nil {
		lerr := &LaunchError{Program: spec.Program, Err: err}
		log.Error(lerr, "OSA tool execution failed", "program", spec.Program, "args", spec.Args)
		state.Phase = PhaseErrored
		state.Error = lerr.Error()
		state.OutcomeMessage = launchFailureMessage(lerr)
		c.finish(state)
		return lerr
	}
	log.Info("started OSA tool", "program", spec.Program, "args", spec.Args)

	state.Transcript = append(state.Transcript, spec.CommandLine())
	c.notify(state)

	reason, lastLine, res := c.supervise(ctx, log, state, proc)
	exitCode, werr := res.code, res.err
	if werr != nil {
		werr = fmt.Errorf("waiting for %s: %w", spec.Program, werr)
		log.Error(werr, "OSA tool execution failed")
		state.Phase = PhaseErrored
		state.Error = werr.Error()
		state.OutcomeMessage = launchFailureMessage(werr)
		c.finish(state)
		return werr
	}
	state.ExitCode = &exitCode

	if lastLine == "" {
		lastLine = noOutputLine
	}

	switch {
	case reason == stopCancelled:
		state.Phase = PhaseCancelled
		state.OutcomeMessage = "OSA tool run was cancelled"
		log.Info("OSA tool run cancelled", "exitCode", exitCode)
	case reason == stopIdle:
		state.Phase = PhaseTimedOut
		state.OutcomeMessage = fmt.Sprintf("Error running OSA tool: no output for %s, last line `%s`", c.idleTimeout, lastLine)
		log.Error(errors.New("idle timeout"), "OSA tool execution timed out",
			"idleTimeout", c.idleTimeout, "exitCode", exitCode, "lastLine", lastLine)
	case exitCode == 0:
		state.Phase = PhaseSucceeded
		state.OutcomeMessage = MessageSuccess
		log.Info("OSA tool finished", "reportPath", state.ReportPath)
	default:
		stderr := string(proc.Stderr())
		state.Phase = PhaseFailed
		state.OutcomeMessage = failureMessage(lastLine)
		log.Error(fmt.Errorf("exit code %d", exitCode), "OSA tool execution failed",
			"exitCode", exitCode, "lastLine", lastLine, "stderr", stderr)
	}

	c.finish(state)
	return nil
}

type waitResult struct {
	code int
	err  error
}

// supervise reads the primary channel until EOF and then waits for the
// process to exit. Lines are handled strictly in arrival order: extractors,
// then transcript append, then publish. Cancellation and the idle timeout
// kill the process at any point, including after the primary channel closed
// while the process keeps running.
func (c *Coordinator) supervise(ctx context.Context, log logr.Logger, state *RunState, proc Process) (stopReason, string, waitResult) {
	lines := make(chan []byte)
	stop := make(chan struct{})
	defer close(stop)

	go func(out chan<- []byte) {
		defer close(out)
		r := bufio.NewReader(proc.Stdout())
		for {
			b, err := r.ReadBytes('\n')
			if len(b) > 0 {
				select {
				case out <- b:
				case <-stop:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.V(1).Info("primary channel read ended", "error", err.Error())
				}
				return
			}
		}
	}(lines)

	var idle <-chan time.Time
	var timer *time.Timer
	if c.idleTimeout > 0 {
		timer = time.NewTimer(c.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	// Wait must not be called before the primary channel is drained.
	var waited chan waitResult
	startWait := func() {
		waited = make(chan waitResult, 1)
		go func() {
			code, err := proc.Wait()
			waited <- waitResult{code: code, err: err}
		}()
	}

	reason := stopEOF
	done := ctx.Done()
	var lastLine string
	for {
		select {
		case raw, ok := <-lines:
			if !ok {
				lines = nil
				startWait()
				continue
			}
			if reason != stopEOF {
				// killed; drain without recording
				continue
			}
			if timer != nil {
				timer.Reset(c.idleTimeout)
			}
			line, ok := extract.Sanitize(raw)
			if !ok {
				log.V(1).Info("skipping empty or undecodable line", "bytes", len(raw))
				continue
			}
			lastLine = line
			c.apply(log, state, line)
			state.Transcript = append(state.Transcript, line)
			c.notify(state)

		case res := <-waited:
			return reason, lastLine, res

		case <-done:
			reason = stopCancelled
			done, idle = nil, nil
			c.kill(log, proc)

		case <-idle:
			reason = stopIdle
			done, idle = nil, nil
			c.kill(log, proc)
		}
	}
}

// apply runs every extractor over line and folds matches into state.
// A later report path overwrites an earlier one.
func (c *Coordinator) apply(log logr.Logger, state *RunState, line string) {
	for _, ex := range c.extractors {
		sig, ok := ex.Extract(line)
		if !ok {
			continue
		}
		switch sig.Kind {
		case extract.KindReportPath:
			if state.ReportPath != "" && state.ReportPath != sig.Value {
				log.Info("report path replaced", "previous", state.ReportPath, "reportPath", sig.Value)
			}
			state.ReportPath = sig.Value
			state.ReportFilename = path.Base(sig.Value)
		case extract.KindAboutLine:
			state.AboutSection += sig.Value + "\n\n"
		}
	}
}

func (c *Coordinator) kill(log logr.Logger, proc Process) {
	if err := proc.Kill(); err != nil {
		log.V(1).Info("killing OSA tool", "error", err.Error())
	}
}

func (c *Coordinator) finish(state *RunState) {
	t := c.now()
	state.FinishedAt = &t
	c.notify(state)
}

// finishQuietly finalizes state when the publisher itself may be the source
// of a panic.
func (c *Coordinator) finishQuietly(state *RunState) {
	defer func() { _ = recover() }()
	c.finish(state)
}

func (c *Coordinator) notify(state *RunState) {
	state.Revision++
	if c.publish != nil {
		c.publish(state.Snapshot())
	}
}
