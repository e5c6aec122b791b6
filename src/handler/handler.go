package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/quantlab/backtest-hub/src/models"
)

type errorResponse struct {
	Type string `json:"type"`
	Msg  string `json:"message"`
}

func NewErrorResponse(errType string, message string) *errorResponse {
	return &errorResponse{
		Type: errType,
		Msg:  message,
	}
}

func setResponse(response interface{}, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("setResponse: encode: %w", err)
	}

	return nil
}

func setErrorResponse(errType string, statusCode int, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := NewErrorResponse(errType, err.Error())
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		log.Errorf("setErrorResponse: encode: %v", encodeErr)
	}
}

// respondError maps the error taxonomy onto HTTP codes: field validation
// errors are 400, WebErrors carry their own code, engine APIErrors pass the
// engine's code through, anything else is a 500.
func respondError(errType string, err error, w http.ResponseWriter) {
	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		setErrorResponse(errType, http.StatusBadRequest, validationErr, w)
		return
	}

	var webErr *models.WebError
	if errors.As(err, &webErr) {
		setErrorResponse(errType, webErr.StatusCode, webErr, w)
		return
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		setErrorResponse(errType, apiErr.StatusCode, fmt.Errorf("%s", apiErr.Detail), w)
		return
	}

	log.Errorf("%s: %v", errType, err)
	setErrorResponse(errType, http.StatusInternalServerError, err, w)
}
