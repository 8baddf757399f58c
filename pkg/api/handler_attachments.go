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
	"io"
	"net/http"

	"github.com/NissesSenap/osa-web/pkg/command"
	"github.com/NissesSenap/osa-web/pkg/storage"
)

const attachmentField = "file"

// uploadAttachment handles POST /api/v1/attachments. The first part named
// "file" is persisted and its location returned for use in a launch request.
func (s *Server) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, "attachment storage not configured", "")
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body", err.Error())
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "missing file field", "")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body", err.Error())
			return
		}
		if part.FormName() != attachmentField {
			_ = part.Close()
			continue
		}

		path, err := s.attachments.SaveAttachment(part.FileName(), part)
		_ = part.Close()
		if err != nil {
			if errors.Is(err, storage.ErrAttachmentTooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "attachment too large", "")
				return
			}
			s.logger.Error(err, "failed to save attachment", "filename", part.FileName())
			writeError(w, http.StatusInternalServerError, "failed to save attachment", "")
			return
		}

		writeJSON(w, http.StatusCreated, AttachmentResponse{Kind: command.AttachmentFile, Location: path})
		return
	}
}
