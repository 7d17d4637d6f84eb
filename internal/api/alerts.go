package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/notify"
)

type commandRequest struct {
	ActorID         string `json:"actorId"`
	Notes           string `json:"notes,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

func (h *Handler) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := alerts.Filter{EnrollmentID: q.Get("enrollmentId"), RuleID: q.Get("ruleId")}
	switch status := q.Get("status"); status {
	case "":
	case "open":
		f.Open = true
	default:
		parsed, ok := alerts.ParseStatus(status)
		if !ok {
			writeError(w, http.StatusBadRequest, codeValidation, "unknown status "+status)
			return
		}
		f.Status = parsed
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, codeValidation, "limit must be a positive integer")
			return
		}
		f.Limit = limit
	}
	ctx, cancel := h.context(r)
	defer cancel()
	list, err := h.Alerts.List(ctx, f)
	if err != nil {
		h.logger().Errorf(ctx, "api.handleAlertsList: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list alerts")
		return
	}
	if list == nil {
		list = []alerts.Instance{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	inst, err := h.Alerts.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) handleAlertAudit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	entries, err := h.Alerts.Audit(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAlertDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.Deliveries == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "delivery history is not available")
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := h.context(r)
	defer cancel()
	if _, err := h.Alerts.Get(ctx, id); err != nil {
		writeAlertError(w, err)
		return
	}
	list, err := h.Deliveries.ListDeliveries(ctx, id)
	if err != nil {
		h.logger().Errorf(ctx, "api.handleAlertDeliveries: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list deliveries")
		return
	}
	if list == nil {
		list = []notify.Delivery{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func(req commandRequest, id string) (alerts.Instance, error) {
		ctx, cancel := h.context(r)
		defer cancel()
		return h.Alerts.Acknowledge(ctx, id, req.ActorID)
	})
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func(req commandRequest, id string) (alerts.Instance, error) {
		ctx, cancel := h.context(r)
		defer cancel()
		return h.Alerts.Resolve(ctx, id, req.ActorID, req.Notes)
	})
}

func (h *Handler) handleSnooze(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func(req commandRequest, id string) (alerts.Instance, error) {
		ctx, cancel := h.context(r)
		defer cancel()
		return h.Alerts.Snooze(ctx, id, req.ActorID, req.DurationMinutes)
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func(req commandRequest, id string) (alerts.Instance, error) {
		ctx, cancel := h.context(r)
		defer cancel()
		return h.Alerts.Cancel(ctx, id, req.ActorID)
	})
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request, run func(commandRequest, string) (alerts.Instance, error)) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	inst, err := run(req, chi.URLParam(r, "id"))
	if err != nil {
		writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "alert": inst})
}
