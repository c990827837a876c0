package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"circle_go/internal/conversation"
	"circle_go/internal/domain"
	"circle_go/internal/session"
)

type messageCreateRequest struct {
	Content string `json:"content"`
}

func handleSnapshot(sessions *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, ok := sessions.Lookup(profile.ID)
		if !ok {
			writeJSON(w, http.StatusOK, conversation.Snapshot{Messages: []*domain.Message{}})
			return
		}
		writeJSON(w, http.StatusOK, sess.Conv.Snapshot())
	}
}

// handleSendMessage answers 202: the message shows up in the snapshot once
// the store echoes it back.
func handleSendMessage(sessions *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		sess, ok := sessions.Lookup(profile.ID)
		if !ok {
			writeError(w, http.StatusConflict, conversation.ErrNoConversation.Error())
			return
		}

		err := sess.Conv.Send(r.Context(), req.Content)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, conversation.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, conversation.ErrNoConversation), errors.Is(err, conversation.ErrSendInFlight):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeDomainError(w, err)
		}
	}
}
