package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/eleven-am/slidepdf"
	"github.com/eleven-am/slidepdf/internal/logger"
)

type submitter interface {
	Submit(ctx context.Context, req slidepdf.Request) (string, error)
}

type sourceValidator interface {
	Validate(source string) error
}

type handler struct {
	ctrl    submitter
	sources sourceValidator
	log     *logger.Logger
}

type submitRequest struct {
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name"`
	Source        string `json:"source"`
	Tier          string `json:"tier"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Submit handles POST /requests.
func (h *handler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	body.RequesterID = strings.TrimSpace(body.RequesterID)
	body.Source = strings.TrimSpace(body.Source)
	if body.RequesterID == "" || body.Source == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "requester_id and source are required"})
		return
	}
	if err := h.sources.Validate(body.Source); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported source", Reason: err.Error()})
		return
	}

	id, err := h.ctrl.Submit(r.Context(), slidepdf.Request{
		RequesterID:   body.RequesterID,
		RequesterName: body.RequesterName,
		Source:        body.Source,
		Tier:          body.Tier,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, submitResponse{RequestID: id})
	case errors.Is(err, slidepdf.ErrRequesterLimit):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "request already in progress", Reason: "requester_limit"})
	case errors.Is(err, slidepdf.ErrServerFull):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server busy, try again later", Reason: "server_full"})
	case errors.Is(err, slidepdf.ErrNotStarted):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service shutting down"})
	default:
		h.log.WithRequest(r).WithError(err).Error("submit failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// Health handles GET /healthz.
func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
