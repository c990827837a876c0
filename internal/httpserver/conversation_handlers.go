package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"circle_go/internal/session"
	"circle_go/internal/ws"
)

// handleOpenConversation switches the caller's session to the conversation of
// one plan and returns the loaded history.
func handleOpenConversation(sessions *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation id")
			return
		}
		sess := sessions.Acquire(profile.ID)
		if err := sess.Conv.Open(r.Context(), convID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Conv.Snapshot())
	}
}

// handleCloseConversation drops the open conversation. A session with no
// websocket attached is released as well.
func handleCloseConversation(sessions *session.Registry, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if sess, ok := sessions.Lookup(profile.ID); ok {
			sess.Conv.Close()
			if !hub.Connected(profile.ID) {
				sessions.Release(profile.ID)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
