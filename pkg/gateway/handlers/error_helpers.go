package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-switchboard/pkg/gateway/apierror"
)

func writeErrorJSON(w http.ResponseWriter, reqID string, apiErr *apierror.Error, status int) {
	if apiErr != nil && apiErr.RequestID == "" {
		apiErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
