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
	"errors"
	"net/http"
	"strconv"

	"github.com/NissesSenap/osa-web/pkg/github"
)

// getTokenStatus handles GET /api/v1/github/token. The token itself is
// never returned. With ?verify=true the token is checked against GitHub.
func (s *Server) getTokenStatus(w http.ResponseWriter, r *http.Request) {
	resp := TokenStatusResponse{Found: s.token != ""}

	verify, _ := strconv.ParseBool(r.URL.Query().Get("verify"))
	if !resp.Found || !verify {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if s.github == nil {
		resp.Error = "GitHub client not configured"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	login, err := s.github.Login(r.Context())
	if err != nil {
		s.logger.V(1).Info("token verification failed", "error", err.Error())
		if github.IsUnauthorized(err) {
			resp.Error = "token rejected by GitHub"
		} else {
			resp.Error = "could not reach GitHub"
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Verified = true
	resp.Login = login
	writeJSON(w, http.StatusOK, resp)
}

// getRepository handles GET /api/v1/github/repository?url=.
func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	if s.github == nil {
		writeError(w, http.StatusServiceUnavailable, "GitHub client not configured", "")
		return
	}

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url is required", "")
		return
	}

	repo, err := s.github.Repository(r.Context(), rawURL)
	switch {
	case errors.Is(err, github.ErrInvalidRepositoryURL):
		writeError(w, http.StatusBadRequest, "invalid repository URL", err.Error())
	case github.IsNotFound(err):
		writeError(w, http.StatusNotFound, "repository not found", "")
	case err != nil:
		s.logger.Error(err, "failed to get repository", "url", rawURL)
		writeError(w, http.StatusBadGateway, "failed to get repository", "")
	default:
		writeJSON(w, http.StatusOK, repo)
	}
}
