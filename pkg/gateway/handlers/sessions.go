package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/vai-switchboard/pkg/gateway/apierror"
	"github.com/vango-go/vai-switchboard/pkg/gateway/live/orchestrator"
	"github.com/vango-go/vai-switchboard/pkg/gateway/mw"
)

// StartSessionHandler handles POST /v1/sessions.
type StartSessionHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

func (h StartSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	id, err := h.Orchestrator.StartSession()
	if err != nil {
		apiErr, status := apierror.FromError(err, reqID)
		writeErrorJSON(w, reqID, apiErr, status)
		return
	}

	type startResp struct {
		SessionID string `json:"session_id"`
	}
	writeJSON(w, http.StatusCreated, startResp{SessionID: id})
}

// StopSessionHandler handles DELETE /v1/sessions/{id} and its POST
// /v1/sessions/{id}/stop alias.
type StopSessionHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

func (h StopSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeErrorJSON(w, reqID, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "session id is required",
			Param:   "id",
		}, http.StatusBadRequest)
		return
	}

	if err := h.Orchestrator.StopSession(id); err != nil {
		apiErr, status := apierror.FromError(err, reqID)
		writeErrorJSON(w, reqID, apiErr, status)
		return
	}

	type stopResp struct {
		SessionID string `json:"session_id"`
		Stopped   bool   `json:"stopped"`
	}
	writeJSON(w, http.StatusOK, stopResp{SessionID: id, Stopped: true})
}
