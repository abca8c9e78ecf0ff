package server

import (
	"encoding/json"
	"net/http"
)

// ErrorBody wraps an error in a response
type ErrorBody struct {
	Error ErrorItem `json:"error"`
}

// ErrorItem is a machine-readable code and a message
type ErrorItem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: ErrorItem{Code: code, Message: msg}})
}
