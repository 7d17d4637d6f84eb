package api

import (
	"errors"
	"net/http"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/rules"
	"carewatch-backend/internal/storage"
)

const (
	codeInvalidTransition = "INVALID_TRANSITION"
	codeValidation        = "VALIDATION_ERROR"
	codeNotFound          = "NOT_FOUND"
	codeRuleExists        = "RULE_EXISTS"
	codeConflict          = "CONFLICT"
	codeInternal          = "INTERNAL"
)

type errorResponse struct {
	Ok                 bool                `json:"ok"`
	Code               string              `json:"code"`
	Message            string              `json:"message"`
	Details            []rules.ErrorDetail `json:"details"`
	CurrentState       alerts.Status       `json:"currentState,omitempty"`
	AllowedTransitions []alerts.Status     `json:"allowedTransitions,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message, Details: []rules.ErrorDetail{}})
}

func writeValidationError(w http.ResponseWriter, verr *rules.ValidationError) {
	details := verr.Details
	if details == nil {
		details = []rules.ErrorDetail{}
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: verr.Code, Message: verr.Message, Details: details})
}

// writeAlertError maps manager errors onto status codes. Unknown errors are 500.
func writeAlertError(w http.ResponseWriter, err error) {
	var terr *alerts.TransitionError
	switch {
	case errors.As(err, &terr):
		allowed := terr.Allowed
		if allowed == nil {
			allowed = []alerts.Status{}
		}
		writeJSON(w, http.StatusConflict, errorResponse{
			Code:               codeInvalidTransition,
			Message:            terr.Error(),
			Details:            []rules.ErrorDetail{},
			CurrentState:       terr.Current,
			AllowedTransitions: allowed,
		})
	case errors.Is(err, alerts.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "alert not found")
	case errors.Is(err, alerts.ErrInvalidSnooze):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    codeValidation,
			Message: err.Error(),
			Details: []rules.ErrorDetail{{Field: "durationMinutes", Problem: "out of range", Hint: "Between 1 and 10080"}},
		})
	case errors.Is(err, alerts.ErrInvalidActor):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    codeValidation,
			Message: err.Error(),
			Details: []rules.ErrorDetail{{Field: "actorId", Problem: "missing", Hint: "Send the id of the acting user"}},
		})
	case errors.Is(err, alerts.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, "alert changed concurrently, retry")
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to update alert")
	}
}

func writeRuleStoreError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "rule not found")
	case errors.Is(err, storage.ErrDuplicateRule):
		writeError(w, http.StatusConflict, codeRuleExists, "a rule with this id already exists")
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to "+action+" rule")
	}
}
