package server

import (
	"encoding/json"
	"errors"
	"net/http"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeErr maps structured errors to a status and a client-safe message.
func writeErr(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	code := bqerrors.GetCode(err)
	status := http.StatusInternalServerError
	if code == bqerrors.ErrCodeInvalidInput {
		status = http.StatusBadRequest
	}

	msg := err.Error()
	var be *bqerrors.Error
	if errors.As(err, &be) && be.UserMessage != "" {
		msg = be.UserMessage
	}
	writeJSON(w, status, errorBody{Error: msg, Code: string(code)})
}
