package httpserver

import (
	"encoding/json"
	"net/http"

	"circle_go/internal/service"
)

type statusRequest struct {
	Free bool `json:"free"`
}

func handleSchedule(svc *service.ActivityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		items, err := svc.Schedule(r.Context(), profile.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleInbox lists the conversations the user can open.
func handleInbox(svc *service.ActivityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		items, err := svc.Inbox(r.Context(), profile.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleCircle(svc *service.ActivityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := svc.Touch(r.Context(), profile.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		view, err := svc.Circle(r.Context(), profile.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleSetStatus(svc *service.ActivityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := svc.SetAvailable(r.Context(), profile.ID, req.Free); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
