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

package api

import (
	"time"

	"github.com/NissesSenap/osa-web/pkg/command"
	"github.com/NissesSenap/osa-web/pkg/runner"
)

// Run event types carried in RunEvent.Type.
const (
	EventTypeInvocation = "invocation"
	EventTypeLine       = "line"
)

// WebSocket message types.
const (
	MessageRunEvent    = "run_event"
	MessageRunComplete = "run_complete"
)

// LaunchRequest is the JSON body for POST /api/v1/runs.
type LaunchRequest struct {
	RepositoryURL  string              `json:"repositoryUrl"`
	Mode           string              `json:"mode,omitempty"`
	Branch         string              `json:"branch,omitempty"`
	Attachment     *command.Attachment `json:"attachment,omitempty"`
	NoFork         bool                `json:"noFork,omitempty"`
	NoPullRequest  bool                `json:"noPullRequest,omitempty"`
	DeleteDirAfter bool                `json:"deleteDirAfter,omitempty"`
}

// RunRef identifies a run.
type RunRef struct {
	ID string `json:"id"`
}

// RunResponse is the JSON response for GET /api/v1/runs/current.
type RunResponse struct {
	ID              string   `json:"id"`
	Phase           string   `json:"phase"`
	Revision        int64    `json:"revision"`
	Transcript      []string `json:"transcript"`
	ReportAvailable bool     `json:"reportAvailable"`
	ReportFilename  string   `json:"reportFilename,omitempty"`
	AboutSection    string   `json:"aboutSection,omitempty"`
	AboutHTML       string   `json:"aboutHtml,omitempty"`
	ExitCode        *int     `json:"exitCode,omitempty"`
	OutcomeMessage  string   `json:"outcomeMessage,omitempty"`
	Error           string   `json:"error,omitempty"`
	StartedAt       string   `json:"startedAt,omitempty"`
	FinishedAt      *string  `json:"finishedAt,omitempty"`
}

// RunEvent is one transcript line as streamed to WebSocket clients.
// Sequence is the 1-based transcript position.
type RunEvent struct {
	Sequence  int64  `json:"sequence"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Line      string `json:"line"`
}

// RunCompleteData is the payload of the final WebSocket message of a run.
type RunCompleteData struct {
	RunID           string `json:"runId"`
	Phase           string `json:"phase"`
	OutcomeMessage  string `json:"outcomeMessage"`
	ExitCode        *int   `json:"exitCode,omitempty"`
	ReportAvailable bool   `json:"reportAvailable"`
	ReportFilename  string `json:"reportFilename,omitempty"`
	AboutSection    string `json:"aboutSection,omitempty"`
}

// WSMessage wraps all messages sent over WebSocket.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// AttachmentResponse is the JSON response for POST /api/v1/attachments.
type AttachmentResponse struct {
	Kind     command.AttachmentKind `json:"kind"`
	Location string                 `json:"location"`
}

// TokenStatusResponse is the JSON response for GET /api/v1/github/token.
type TokenStatusResponse struct {
	Found    bool   `json:"found"`
	Verified bool   `json:"verified"`
	Login    string `json:"login,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func completeData(s runner.RunState) RunCompleteData {
	return RunCompleteData{
		RunID:           s.ID,
		Phase:           string(s.Phase),
		OutcomeMessage:  s.OutcomeMessage,
		ExitCode:        s.ExitCode,
		ReportAvailable: s.ReportPath != "",
		ReportFilename:  s.ReportFilename,
		AboutSection:    s.AboutSection,
	}
}
