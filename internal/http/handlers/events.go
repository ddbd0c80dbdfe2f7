package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"server/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// VideoEvents streams pipeline status updates for the video over a websocket.
// The subscription is taken before the state snapshot is read, so a
// transition landing in between is buffered rather than lost; the client may
// therefore see one update repeat the snapshot. The connection closes when
// the client goes away.
func (a *App) VideoEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "video id required")
		return
	}
	updates, unsubscribe := a.Enricher.Watch(id)
	defer unsubscribe()

	v, err := a.Enricher.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "video not found")
			return
		}
		a.Logger.Error().Err(err).Str("video_id", id).Msg("events: status lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load video")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Str("video_id", id).Msg("events: websocket upgrade failed")
		return
	}
	defer conn.Close()

	snapshot := map[string]any{
		"video_id": v.ID,
		"status":   v.Status,
	}
	if v.FailedStage != "" {
		snapshot["stage"] = v.FailedStage
		snapshot["reason"] = v.FailureReason
	}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}

	// Drain reads so client close frames are observed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
