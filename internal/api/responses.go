package api

import (
	"encoding/json"
	"net/http"
)

func (a *API) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("failed to encode response", "error", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, code int, text string) {
	response := struct {
		Code int    `json:"code"`
		Text string `json:"text"`
	}{
		Code: code,
		Text: text,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.log.Error("failed to encode error response", "error", err)
	}
}
