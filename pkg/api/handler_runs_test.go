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
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NissesSenap/osa-web/pkg/command"
	"github.com/NissesSenap/osa-web/pkg/runner"
	"github.com/NissesSenap/osa-web/pkg/storage"
)

func TestLaunchRun_Accepted(t *testing.T) {
	runs := &fakeRuns{launchID: "run-1"}
	h := newTestServer(runs, WithGitHub(nil, "ghp_secret")).Handler()

	w := doRequest(t, h, http.MethodPost, "/api/v1/runs", LaunchRequest{
		RepositoryURL: "https://github.com/aimclub/OSA",
		Mode:          "Advanced",
		Branch:        "dev",
		Attachment:    &command.Attachment{Kind: command.AttachmentURL, Location: "https://example.com/paper.pdf"},
		NoFork:        true,
		NoPullRequest: true,
	})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var ref RunRef
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ref))
	assert.Equal(t, "run-1", ref.ID)
	assert.Equal(t, "/api/v1/runs/current", w.Header().Get("Location"))

	require.Len(t, runs.launched, 1)
	cfg := runs.launched[0]
	assert.Equal(t, command.ModeAdvanced, cfg.Mode)
	assert.Equal(t, "dev", cfg.Branch)
	assert.True(t, cfg.NoFork)
	assert.True(t, cfg.NoPullRequest)
	assert.Equal(t, "https://example.com/paper.pdf", cfg.Attachment.Location)
	assert.Equal(t, "ghp_secret", cfg.AuthToken, "token comes from the server, not the request")
}

func TestLaunchRun_Errors(t *testing.T) {
	tests := []struct {
		name       string
		runs       *fakeRuns
		body       any
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing repository",
			runs:       &fakeRuns{},
			body:       LaunchRequest{},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid configuration",
		},
		{
			name:       "unknown mode",
			runs:       &fakeRuns{},
			body:       LaunchRequest{RepositoryURL: "https://github.com/a/b", Mode: "turbo"},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid configuration",
		},
		{
			name: "bad attachment",
			runs: &fakeRuns{},
			body: LaunchRequest{
				RepositoryURL: "https://github.com/a/b",
				Attachment:    &command.Attachment{Kind: "ftp", Location: "x"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid configuration",
		},
		{
			name: "file attachment outside the workspace",
			runs: &fakeRuns{},
			body: LaunchRequest{
				RepositoryURL: "https://github.com/a/b",
				Attachment:    &command.Attachment{Kind: command.AttachmentFile, Location: "/etc/passwd"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid configuration",
		},
		{
			name:       "malformed json",
			runs:       &fakeRuns{},
			body:       []byte(`{"repositoryUrl":`),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "run in flight",
			runs:       &fakeRuns{launchErr: runner.ErrRunInProgress},
			body:       LaunchRequest{RepositoryURL: "https://github.com/a/b"},
			wantStatus: http.StatusConflict,
			wantError:  "a run is already in progress",
		},
		{
			name:       "internal failure",
			runs:       &fakeRuns{launchErr: errors.New("disk full")},
			body:       LaunchRequest{RepositoryURL: "https://github.com/a/b"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "failed to launch run",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(tt.runs).Handler()

			w := doRequest(t, h, http.MethodPost, "/api/v1/runs", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantError, decodeError(t, w).Error)
			assert.Empty(t, tt.runs.launched)
		})
	}
}

func TestLaunchRun_FileAttachment(t *testing.T) {
	ws, err := storage.New(t.TempDir())
	require.NoError(t, err)
	uploaded, err := ws.SaveAttachment("paper.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	outside := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("%PDF-1.4"), 0o600))

	tests := []struct {
		name       string
		location   string
		wantStatus int
	}{
		{name: "uploaded file", location: uploaded, wantStatus: http.StatusAccepted},
		{name: "file elsewhere on the server", location: outside, wantStatus: http.StatusBadRequest},
		{name: "traversal out of attachments", location: filepath.Join(ws.AttachmentDir(), "..", "..", filepath.Base(outside)), wantStatus: http.StatusBadRequest},
		{name: "attachments directory itself", location: ws.AttachmentDir(), wantStatus: http.StatusBadRequest},
		{name: "empty location", location: "", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := &fakeRuns{launchID: "run-1"}
			h := newTestServer(runs, WithAttachments(ws)).Handler()

			w := doRequest(t, h, http.MethodPost, "/api/v1/runs", LaunchRequest{
				RepositoryURL: "https://github.com/aimclub/OSA",
				Attachment:    &command.Attachment{Kind: command.AttachmentFile, Location: tt.location},
			})

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusAccepted {
				require.Len(t, runs.launched, 1)
				assert.Equal(t, uploaded, runs.launched[0].Attachment.Location)
				return
			}
			assert.Equal(t, "invalid configuration", decodeError(t, w).Error)
			assert.Empty(t, runs.launched)
		})
	}
}

func TestGetCurrentRun(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	code := 0
	runs := &fakeRuns{}
	runs.set(runner.RunState{
		ID:             "run-1",
		Phase:          runner.PhaseSucceeded,
		Revision:       4,
		Transcript:     []string{"osa-tool -r x", "- Description: A *tool*"},
		ReportPath:     "/tmp/out/report.pdf",
		ReportFilename: "report.pdf",
		AboutSection:   "- Description: A *tool*\n\n",
		ExitCode:       &code,
		OutcomeMessage: runner.MessageSuccess,
		StartedAt:      started,
		FinishedAt:     &finished,
	})
	h := newTestServer(runs).Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/runs/current", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.ID)
	assert.Equal(t, "succeeded", resp.Phase)
	assert.Equal(t, int64(4), resp.Revision)
	assert.Len(t, resp.Transcript, 2)
	assert.True(t, resp.ReportAvailable)
	assert.Equal(t, "report.pdf", resp.ReportFilename)
	assert.Equal(t, "<ul>\n<li>Description: A <em>tool</em></li>\n</ul>\n", resp.AboutHTML)
	require.NotNil(t, resp.ExitCode)
	assert.Equal(t, 0, *resp.ExitCode)
	assert.Equal(t, "2026-03-01T10:00:00Z", resp.StartedAt)
	require.NotNil(t, resp.FinishedAt)
	assert.Equal(t, "2026-03-01T10:01:00Z", *resp.FinishedAt)
	assert.NotContains(t, w.Body.String(), "/tmp/out", "server paths are not exposed")
}

func TestGetCurrentRun_PendingHasEmptyTranscript(t *testing.T) {
	runs := &fakeRuns{}
	runs.set(runner.RunState{ID: "run-1", Phase: runner.PhasePending})
	h := newTestServer(runs).Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/runs/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"transcript":[]`)
	assert.NotContains(t, w.Body.String(), "startedAt")
}

func TestGetCurrentRun_AboutSectionRawHTMLIsOmitted(t *testing.T) {
	runs := &fakeRuns{}
	runs.set(runner.RunState{ID: "run-1", Phase: runner.PhaseRunning, AboutSection: "<script>alert(1)</script>\n\n"})
	h := newTestServer(runs).Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/runs/current", nil)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotContains(t, resp.AboutHTML, "<script>")
}

func TestCancelRun(t *testing.T) {
	runs := &fakeRuns{}
	runs.set(runner.RunState{ID: "run-1", Phase: runner.PhaseRunning})
	h := newTestServer(runs).Handler()

	w := doRequest(t, h, http.MethodDelete, "/api/v1/runs/run-1", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"run-1"}, runs.cancelled)

	w = doRequest(t, h, http.MethodDelete, "/api/v1/runs/run-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	runs.cancelErr = runner.ErrRunFinished
	w = doRequest(t, h, http.MethodDelete, "/api/v1/runs/run-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	runs.cancelErr = errors.New("boom")
	w = doRequest(t, h, http.MethodDelete, "/api/v1/runs/run-1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDownloadReport(t *testing.T) {
	outDir := t.TempDir()
	report := filepath.Join(outDir, "aimclub_OSA_report.pdf")
	require.NoError(t, os.WriteFile(report, []byte("%PDF-1.4 fake"), 0o600))

	runs := &fakeRuns{}
	runs.set(runner.RunState{
		ID:              "run-1",
		Phase:           runner.PhaseSucceeded,
		ReportPath:      report,
		ReportFilename:  "aimclub_OSA_report.pdf",
		OutputDirectory: outDir,
	})
	h := newTestServer(runs).Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/runs/run-1/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=aimclub_OSA_report.pdf", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.4 fake", w.Body.String())
}

func TestDownloadReport_EncodesFilename(t *testing.T) {
	outDir := t.TempDir()
	report := filepath.Join(outDir, "report.pdf")
	require.NoError(t, os.WriteFile(report, []byte("%PDF-1.4 fake"), 0o600))

	runs := &fakeRuns{}
	runs.set(runner.RunState{
		ID:              "run-1",
		Phase:           runner.PhaseSucceeded,
		ReportPath:      report,
		ReportFilename:  "åäö \"quoted\"_report.pdf",
		OutputDirectory: outDir,
	})
	h := newTestServer(runs).Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/runs/run-1/report", nil)
	require.Equal(t, http.StatusOK, w.Code)

	disposition := w.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, "filename*=utf-8''")
	kind, params, err := mime.ParseMediaType(disposition)
	require.NoError(t, err)
	assert.Equal(t, "attachment", kind)
	assert.Equal(t, "åäö \"quoted\"_report.pdf", params["filename"])
}

func TestDownloadReport_Refusals(t *testing.T) {
	outDir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))

	tests := []struct {
		name       string
		state      *runner.RunState
		path       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "no run",
			path:       "/api/v1/runs/run-1/report",
			wantStatus: http.StatusNotFound,
			wantError:  "run not found",
		},
		{
			name:       "other run",
			state:      &runner.RunState{ID: "run-2", ReportPath: filepath.Join(outDir, "r.pdf"), OutputDirectory: outDir},
			path:       "/api/v1/runs/run-1/report",
			wantStatus: http.StatusNotFound,
			wantError:  "run not found",
		},
		{
			name:       "no report",
			state:      &runner.RunState{ID: "run-1", Phase: runner.PhaseFailed, OutputDirectory: outDir},
			path:       "/api/v1/runs/run-1/report",
			wantStatus: http.StatusNotFound,
			wantError:  "no report produced",
		},
		{
			name:       "report outside output directory",
			state:      &runner.RunState{ID: "run-1", ReportPath: outside, ReportFilename: "secret.pdf", OutputDirectory: outDir},
			path:       "/api/v1/runs/run-1/report",
			wantStatus: http.StatusForbidden,
			wantError:  "report is outside the run output directory",
		},
		{
			name:       "report deleted",
			state:      &runner.RunState{ID: "run-1", ReportPath: filepath.Join(outDir, "gone.pdf"), OutputDirectory: outDir},
			path:       "/api/v1/runs/run-1/report",
			wantStatus: http.StatusForbidden,
			wantError:  "report is outside the run output directory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := &fakeRuns{}
			if tt.state != nil {
				runs.set(*tt.state)
			}
			h := newTestServer(runs).Handler()

			w := doRequest(t, h, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantError, decodeError(t, w).Error)
			assert.NotContains(t, w.Body.String(), "secret")
		})
	}
}
