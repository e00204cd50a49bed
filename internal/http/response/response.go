package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func write(w http.ResponseWriter, r *http.Request, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "response encode failed", "error", err)
	}
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, r, status, envelope{Success: true, Data: data})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	write(w, r, status, envelope{Success: false, Error: &errorBody{Code: code, Message: message, Details: details}})
}
