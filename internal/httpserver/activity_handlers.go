package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"circle_go/internal/membership"
	"circle_go/internal/service"
)

type joinResponse struct {
	ActivityID uuid.UUID                    `json:"activity_id"`
	Status     string                       `json:"status"`
	Message    string                       `json:"message,omitempty"`
	Count      int                          `json:"count"`
	Members    []membership.ParticipantView `json:"participants"`
}

func handleFeed(svc *service.ActivityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, err := svc.Feed(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

func handlePostActivity(svc *service.ActivityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var in service.ActivityInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		a, err := svc.Post(r.Context(), profile.ID, in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

// handleJoin answers 200 on a join, 409 when already joined or while another
// operation on the same plan is in flight, and 502 on any other failure.
func handleJoin(ledger *membership.Ledger, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		activityID, ok := activityParam(w, r)
		if !ok {
			return
		}
		if !ledger.Busy(activityID, profile.ID) {
			if err := ledger.Load(r.Context(), activityID); err != nil {
				log.Warn().Err(err).Str("activity_id", activityID.String()).Msg("load participants")
			}
		}
		out, err := ledger.Join(r.Context(), activityID, profile.ID)
		writeMembership(w, ledger, activityID, out, err)
	}
}

func handleLeave(ledger *membership.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		activityID, ok := activityParam(w, r)
		if !ok {
			return
		}
		out, err := ledger.Leave(r.Context(), activityID, profile.ID)
		writeMembership(w, ledger, activityID, out, err)
	}
}

func writeMembership(w http.ResponseWriter, ledger *membership.Ledger, activityID uuid.UUID, out membership.Outcome, err error) {
	status, msg := membership.Result(out, err)
	code := http.StatusOK
	switch {
	case errors.Is(err, membership.ErrBusy), out == membership.OutcomeAlreadyJoined:
		code = http.StatusConflict
	case err != nil:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, joinResponse{
		ActivityID: activityID,
		Status:     status,
		Message:    msg,
		Count:      ledger.Count(activityID),
		Members:    ledger.Participants(activityID),
	})
}

func handleParticipants(ledger *membership.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activityID, ok := activityParam(w, r)
		if !ok {
			return
		}
		if err := ledger.Load(r.Context(), activityID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ledger.Participants(activityID))
	}
}

func activityParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "activityID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return uuid.Nil, false
	}
	return id, true
}
