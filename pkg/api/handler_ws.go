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
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// streamEvents handles GET /api/v1/runs/{runID}/events (WebSocket upgrade).
// Buffered transcript lines after ?after=N are replayed, then live lines
// follow until the run is terminal and a run_complete message closes the stream.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	log := s.logger
	runID := chi.URLParam(r, "runID")

	snap, ok := s.runs.Snapshot()
	if !ok || snap.ID != runID {
		writeError(w, http.StatusNotFound, "run not found", "")
		return
	}

	var after int64
	if afterParam := r.URL.Query().Get("after"); afterParam != "" {
		var err error
		after, err = strconv.ParseInt(afterParam, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after parameter", err.Error())
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error(err, "failed to accept websocket", "runID", runID)
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	// Write-only: CloseRead handles the client's close frames.
	ctx := conn.CloseRead(r.Context())

	history, sub, err := s.hub.Subscribe(runID, after)
	if err != nil {
		// The run was replaced between the lookup and the upgrade.
		_ = conn.Close(websocket.StatusGoingAway, "run superseded")
		return
	}
	defer sub.Close()

	for _, e := range history {
		if err := writeMessage(ctx, conn, MessageRunEvent, e); err != nil {
			return
		}
	}
	for e := range sub.C {
		if err := writeMessage(ctx, conn, MessageRunEvent, e); err != nil {
			return
		}
	}

	switch sub.Reason() {
	case EndSuperseded:
		_ = conn.Close(websocket.StatusGoingAway, "run superseded")
	case EndEvicted:
		log.Info("evicted slow event subscriber", "runID", runID)
		_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer evicted")
	case EndCompleted:
		final, ok := s.runs.Snapshot()
		if !ok || final.ID != runID {
			_ = conn.Close(websocket.StatusGoingAway, "run superseded")
			return
		}
		_ = writeMessage(ctx, conn, MessageRunComplete, completeData(final))
		_ = conn.Close(websocket.StatusNormalClosure, "run complete")
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(WSMessage{Type: typ, Data: data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
