package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/schema"

	"github.com/quantlab/backtest-hub/src/services"
)

func (a *ApiHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setErrorResponse("handleRegister: failed to decode request", http.StatusBadRequest, err, w)
		return
	}

	if _, err := a.auth.Register(&req); err != nil {
		respondError("handleRegister: registration failed", err, w)
		return
	}

	response := map[string]interface{}{
		"message": "Registration successful. Your account is pending approval.",
	}

	if err := setResponse(response, w); err != nil {
		setErrorResponse("handleRegister: failed to set response", http.StatusInternalServerError, err, w)
	}
}

type loginForm struct {
	Username string `schema:"username,required"`
	Password string `schema:"password,required"`
}

// handleLogin accepts x-www-form-urlencoded credentials, matching the shape
// browser login forms post.
func (a *ApiHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		setErrorResponse("handleLogin: failed to parse form", http.StatusBadRequest, err, w)
		return
	}

	var form loginForm
	if err := schema.NewDecoder().Decode(&form, r.PostForm); err != nil {
		setErrorResponse("handleLogin: failed to decode form", http.StatusBadRequest, err, w)
		return
	}

	token, user, err := a.auth.Login(form.Username, form.Password)
	if err != nil {
		respondError("handleLogin: login failed", err, w)
		return
	}

	response := map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user,
	}

	if err := setResponse(response, w); err != nil {
		setErrorResponse("handleLogin: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleMe: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	if err := setResponse(user, w); err != nil {
		setErrorResponse("handleMe: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		setErrorResponse("handleLogout: unauthorized", http.StatusUnauthorized, err, w)
		return
	}

	if err := a.auth.Logout(token); err != nil {
		respondError("handleLogout: logout failed", err, w)
		return
	}

	if err := setResponse(map[string]string{"message": "logged out"}, w); err != nil {
		setErrorResponse("handleLogout: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setErrorResponse("handleForgotPassword: failed to decode request", http.StatusBadRequest, err, w)
		return
	}

	if err := a.auth.RequestPasswordReset(req.Email); err != nil {
		respondError("handleForgotPassword: request failed", err, w)
		return
	}

	// Deliberately identical for known and unknown emails.
	response := map[string]string{
		"message": "If an account exists for this email, a reset link has been sent.",
	}

	if err := setResponse(response, w); err != nil {
		setErrorResponse("handleForgotPassword: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setErrorResponse("handleResetPassword: failed to decode request", http.StatusBadRequest, err, w)
		return
	}

	if err := a.auth.ResetPassword(req.Token, req.Password); err != nil {
		respondError("handleResetPassword: reset failed", err, w)
		return
	}

	if err := setResponse(map[string]string{"message": "password updated"}, w); err != nil {
		setErrorResponse("handleResetPassword: failed to set response", http.StatusInternalServerError, err, w)
	}
}
