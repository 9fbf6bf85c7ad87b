package admin

import (
	"net/http"

	"github.com/intentgate/intentgate/internal/domain/delivery"
	"github.com/intentgate/intentgate/internal/domain/message"
)

// SimulateRequest is the JSON request body for POST /api/v1/simulate.
type SimulateRequest struct {
	Message  message.Spec `json:"message"`
	Dispatch bool         `json:"dispatch"`
	// Mode selects the delivery method; empty uses the configured default.
	Mode string `json:"mode,omitempty"`
}

// handleIntercept runs one message through the decision path and returns
// the decision. Rule problems never fail the request.
// POST /api/v1/intercept
func (h *AdminAPIHandler) handleIntercept(w http.ResponseWriter, r *http.Request) {
	if h.interception == nil {
		h.respondError(w, http.StatusServiceUnavailable, "interception service not configured")
		return
	}

	var msg message.Message
	if err := h.readJSON(w, r, &msg); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}

	decision := h.interception.Intercept(r.Context(), &msg)
	h.respondJSON(w, http.StatusOK, decision)
}

// handleSimulate evaluates a synthetic message and optionally dispatches
// the result.
// POST /api/v1/simulate
func (h *AdminAPIHandler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if h.simulation == nil {
		h.respondError(w, http.StatusServiceUnavailable, "simulation service not configured")
		return
	}

	var req SimulateRequest
	err := h.readJSON(w, r, &req)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	mode := h.defaultMode
	if req.Mode != "" {
		mode, err = delivery.ParseMode(req.Mode)
	}
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.simulation.RunTest(r.Context(), req.Message, req.Dispatch, mode)
	h.respondJSON(w, http.StatusOK, res)
}
