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

// Package runner launches osa-tool, consumes its output incrementally and
// accumulates the result of a single run in a RunState.
package runner

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the lifecycle position of a run.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseTimedOut  Phase = "timed_out"
	PhaseCancelled Phase = "cancelled"
	PhaseErrored   Phase = "errored"
)

// Terminal reports whether no further updates follow this phase.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseTimedOut, PhaseCancelled, PhaseErrored:
		return true
	}
	return false
}

// Outcome messages shown to the user.
const (
	MessageSuccess = "Everything is alright"
)

func failureMessage(lastLine string) string {
	return fmt.Sprintf("Error running OSA tool: `%s`", lastLine)
}

func launchFailureMessage(err error) string {
	return fmt.Sprintf("Error executing OSA tool: %v", err)
}

var (
	// ErrRunInProgress is returned when a launch is attempted while a run is in flight.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrUnknownRun is returned for operations on a run ID that is not current.
	ErrUnknownRun = errors.New("unknown run")
	// ErrRunFinished is returned when cancelling a run that already finished.
	ErrRunFinished = errors.New("run already finished")
)

// LaunchError reports that the external process could not be started.
type LaunchError struct {
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Program, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// RunState accumulates everything observed during one run. It is owned and
// mutated by the Coordinator; other parties only see copies from Snapshot.
type RunState struct {
	ID              string     `json:"id"`
	Phase           Phase      `json:"phase"`
	Revision        int64      `json:"revision"`
	Transcript      []string   `json:"transcript"`
	ReportPath      string     `json:"reportPath,omitempty"`
	ReportFilename  string     `json:"reportFilename,omitempty"`
	AboutSection    string     `json:"aboutSection,omitempty"`
	ExitCode        *int       `json:"exitCode,omitempty"`
	OutcomeMessage  string     `json:"outcomeMessage,omitempty"`
	Error           string     `json:"error,omitempty"`
	OutputDirectory string     `json:"-"`
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// NewRunState returns an empty pending state for the given run ID.
func NewRunState(id string) *RunState {
	return &RunState{ID: id, Phase: PhasePending}
}

// Snapshot returns a copy of s that stays valid while s keeps changing.
// The transcript is append-only, so the copy shares its backing array up
// to the current length with a capped slice.
func (s *RunState) Snapshot() RunState {
	c := *s
	c.Transcript = s.Transcript[:len(s.Transcript):len(s.Transcript)]
	if s.ExitCode != nil {
		code := *s.ExitCode
		c.ExitCode = &code
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// LastLine returns the most recent transcript line, or "" if none.
func (s RunState) LastLine() string {
	if len(s.Transcript) == 0 {
		return ""
	}
	return s.Transcript[len(s.Transcript)-1]
}

// reset clears everything derived from a previous run.
func (s *RunState) reset() {
	s.Transcript = nil
	s.ReportPath = ""
	s.ReportFilename = ""
	s.AboutSection = ""
	s.ExitCode = nil
	s.OutcomeMessage = ""
	s.Error = ""
	s.FinishedAt = nil
}

// Publisher receives a snapshot after each transcript append and once more
// after finalization. It must not block for long.
type Publisher func(RunState)
