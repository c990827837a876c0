package httpserver

import (
	"encoding/json"
	"net/http"

	"circle_go/internal/service"
)

type devTokenRequest struct {
	FullName string `json:"full_name"`
}

// handleDevToken creates a profile and signs a token for it. Only mounted
// when DEBUG is on; production tokens come from the identity provider.
func handleDevToken(authSvc *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req devTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		resp, err := authSvc.IssueDevToken(r.Context(), req.FullName)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := CurrentUser(r)
		if profile == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
