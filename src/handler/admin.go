package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/quantlab/backtest-hub/src/models"
)

func (a *ApiHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers()
	if err != nil {
		respondError("handleListUsers: failed to list users", err, w)
		return
	}

	if err := setResponse(users, w); err != nil {
		setErrorResponse("handleListUsers: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string            `json:"id"`
		Status models.UserStatus `json:"status"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setErrorResponse("handleUpdateUserStatus: failed to decode request", http.StatusBadRequest, err, w)
		return
	}

	userID, err := uuid.Parse(req.ID)
	if err != nil {
		setErrorResponse("handleUpdateUserStatus: failed to parse user id", http.StatusBadRequest, err, w)
		return
	}

	user, err := a.auth.UpdateUserStatus(userID, req.Status)
	if err != nil {
		respondError("handleUpdateUserStatus: update failed", err, w)
		return
	}

	if err := setResponse(user, w); err != nil {
		setErrorResponse("handleUpdateUserStatus: failed to set response", http.StatusInternalServerError, err, w)
	}
}
