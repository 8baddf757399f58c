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
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/NissesSenap/osa-web/pkg/command"
	"github.com/NissesSenap/osa-web/pkg/runner"
	"github.com/NissesSenap/osa-web/pkg/storage"
)

const maxLaunchBodySize = 1 << 20

// launchRun handles POST /api/v1/runs.
func (s *Server) launchRun(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLaunchBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	mode, err := command.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid configuration", err.Error())
		return
	}

	if a := req.Attachment; a != nil && a.Kind == command.AttachmentFile && !s.ownsAttachment(a.Location) {
		cfgErr := &command.ConfigurationError{Field: "attachment.location", Reason: "file attachments must be uploaded first"}
		writeError(w, http.StatusBadRequest, "invalid configuration", cfgErr.Error())
		return
	}

	cfg := command.RunConfiguration{
		RepositoryURL:  req.RepositoryURL,
		Mode:           mode,
		Branch:         req.Branch,
		Attachment:     req.Attachment,
		NoFork:         req.NoFork,
		NoPullRequest:  req.NoPullRequest,
		DeleteDirAfter: req.DeleteDirAfter,
		AuthToken:      s.token,
	}

	id, err := s.runs.Launch(r.Context(), cfg)
	if err != nil {
		var cfgErr *command.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			writeError(w, http.StatusBadRequest, "invalid configuration", cfgErr.Error())
		case errors.Is(err, runner.ErrRunInProgress):
			writeError(w, http.StatusConflict, "a run is already in progress", "")
		default:
			s.logger.Error(err, "failed to launch run", "repositoryUrl", req.RepositoryURL)
			writeError(w, http.StatusInternalServerError, "failed to launch run", "")
		}
		return
	}

	w.Header().Set("Location", "/api/v1/runs/current")
	writeJSON(w, http.StatusAccepted, RunRef{ID: id})
}

func (s *Server) ownsAttachment(path string) bool {
	if s.attachments == nil || path == "" {
		return false
	}
	dir := s.attachments.AttachmentDir()
	return filepath.Clean(path) != filepath.Clean(dir) && storage.Contains(dir, path)
}

// getCurrentRun handles GET /api/v1/runs/current.
func (s *Server) getCurrentRun(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.runs.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has been launched", "")
		return
	}
	writeJSON(w, http.StatusOK, s.runToResponse(snap))
}

// cancelRun handles DELETE /api/v1/runs/{runID}.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	switch err := s.runs.Cancel(runID); {
	case errors.Is(err, runner.ErrUnknownRun):
		writeError(w, http.StatusNotFound, "run not found", "")
	case errors.Is(err, runner.ErrRunFinished):
		writeError(w, http.StatusConflict, "run already finished", "")
	case err != nil:
		s.logger.Error(err, "failed to cancel run", "runID", runID)
		writeError(w, http.StatusInternalServerError, "failed to cancel run", "")
	default:
		s.logger.Info("run cancellation requested", "runID", runID)
		writeJSON(w, http.StatusAccepted, RunRef{ID: runID})
	}
}

// downloadReport handles GET /api/v1/runs/{runID}/report.
func (s *Server) downloadReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	snap, ok := s.runs.Snapshot()
	if !ok || snap.ID != runID {
		writeError(w, http.StatusNotFound, "run not found", "")
		return
	}
	if snap.ReportPath == "" {
		writeError(w, http.StatusNotFound, "no report produced", "")
		return
	}
	if snap.OutputDirectory == "" || !storage.Contains(snap.OutputDirectory, snap.ReportPath) {
		s.logger.Info("refusing report outside the run output directory",
			"runID", runID, "reportPath", snap.ReportPath, "outputDirectory", snap.OutputDirectory)
		writeError(w, http.StatusForbidden, "report is outside the run output directory", "")
		return
	}

	f, err := os.Open(snap.ReportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "report file missing", "")
			return
		}
		s.logger.Error(err, "failed to open report", "runID", runID, "reportPath", snap.ReportPath)
		writeError(w, http.StatusInternalServerError, "failed to open report", "")
		return
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open report", "")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": snap.ReportFilename}))
	http.ServeContent(w, r, snap.ReportFilename, info.ModTime(), f)
}

func (s *Server) runToResponse(snap runner.RunState) RunResponse {
	resp := RunResponse{
		ID:              snap.ID,
		Phase:           string(snap.Phase),
		Revision:        snap.Revision,
		Transcript:      snap.Transcript,
		ReportAvailable: snap.ReportPath != "",
		ReportFilename:  snap.ReportFilename,
		AboutSection:    snap.AboutSection,
		ExitCode:        snap.ExitCode,
		OutcomeMessage:  snap.OutcomeMessage,
		Error:           snap.Error,
	}
	if resp.Transcript == nil {
		resp.Transcript = []string{}
	}
	if !snap.StartedAt.IsZero() {
		resp.StartedAt = formatTime(snap.StartedAt)
	}
	if snap.FinishedAt != nil {
		t := formatTime(*snap.FinishedAt)
		resp.FinishedAt = &t
	}
	if snap.AboutSection != "" {
		var buf bytes.Buffer
		if err := s.markdown.Convert([]byte(snap.AboutSection), &buf); err != nil {
			s.logger.V(1).Info("rendering about section", "error", err.Error())
		} else {
			resp.AboutHTML = buf.String()
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal encoding error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}
