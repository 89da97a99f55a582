package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
)

// keepAlive is how often an idle stream gets a comment line.
const keepAlive = 25 * time.Second

// StreamBookmarks pushes the session's list as server-sent events:
// one "snapshot" event on connect and one after every change.
// The session is re-checked on every keep-alive and the stream ends once it is gone.
func StreamBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
			return
		}

		token := sessionToken(r, d)
		e, ok := engineFor(w, r, d)
		if !ok {
			return
		}

		// The server WriteTimeout would cut the stream.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		send := func() bool {
			if err := writeSnapshot(w, e.Loading(), e.Snapshot()); err != nil {
				d.Logger.Debug("bookmark stream closed", logger.Error(err))
				return false
			}
			flusher.Flush()
			return true
		}

		// Take the channel before reading the list so no change slips between.
		changed := e.Changed()
		if !send() {
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-changed:
				changed = e.Changed()
				d.Views.Touch(token)
				if !send() {
					return
				}
			case <-ticker.C:
				if err := e.Verify(r.Context(), token); errors.Is(err, domain.ErrUnauthenticated) {
					d.Views.Release(token)
					return
				}
				d.Views.Touch(token)
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case <-e.Done():
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeSnapshot(w http.ResponseWriter, loading bool, list []domain.Bookmark) error {
	data, err := json.Marshal(listOf(loading, list))
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
