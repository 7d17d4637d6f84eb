package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carewatch-backend/internal/bus"
	"carewatch-backend/internal/rules"
	"carewatch-backend/internal/storage"
)

type ruleView struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Enabled         bool             `json:"enabled"`
	Status          string           `json:"status"`
	LastError       json.RawMessage  `json:"lastError,omitempty"`
	LastValidatedAt *time.Time       `json:"lastValidatedAt,omitempty"`
	Definition      rules.Definition `json:"definition"`
}

func toRuleView(rec storage.RuleRecord) ruleView {
	view := ruleView{ID: rec.ID, Name: rec.Name, Enabled: rec.Enabled, Status: rec.Status}
	if len(rec.LastError) > 0 {
		view.LastError = rec.LastError
	}
	view.LastValidatedAt = rec.LastValidatedAt
	_ = json.Unmarshal(rec.Definition, &view.Definition)
	view.Definition.ID = rec.ID
	return view
}

func statusFor(enabled bool) string {
	if enabled {
		return storage.RuleStatusActive
	}
	return storage.RuleStatusDisabled
}

func (h *Handler) publish(ctx context.Context, subject, id string) {
	if h.Bus == nil {
		return
	}
	if err := h.Bus.PublishJSON(subject, bus.RuleEvent{RuleID: id, Action: subject}); err != nil {
		h.logger().Warnf(ctx, "api: publish %s for rule %s: %v", subject, id, err)
	}
}

func (h *Handler) handleRulesValidate(w http.ResponseWriter, r *http.Request) {
	var def rules.Definition
	if err := decodeJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if def.ID == "" {
		def.ID = "draft"
	}
	rule, verr := rules.Compile(def, h.registry())
	if verr != nil {
		writeValidationError(w, verr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rule": rule.Definition})
}

// compile parses the body and validates it; it has written the response when ok is false.
func (h *Handler) compile(w http.ResponseWriter, r *http.Request, id string) (rules.Definition, bool) {
	var def rules.Definition
	if err := decodeJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return def, false
	}
	if id != "" {
		def.ID = id
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if _, verr := rules.Compile(def, h.registry()); verr != nil {
		writeValidationError(w, verr)
		return def, false
	}
	return def, true
}

func (h *Handler) record(def rules.Definition) (storage.RuleRecord, error) {
	payload, err := json.Marshal(def)
	if err != nil {
		return storage.RuleRecord{}, err
	}
	enabled := def.Enabled == nil || *def.Enabled
	now := h.now()
	name := def.Name
	if name == "" {
		name = def.ID
	}
	return storage.RuleRecord{
		ID:              def.ID,
		Name:            name,
		Definition:      payload,
		Enabled:         enabled,
		Status:          statusFor(enabled),
		LastValidatedAt: &now,
	}, nil
}

func (h *Handler) handleRulesCreate(w http.ResponseWriter, r *http.Request) {
	def, ok := h.compile(w, r, "")
	if !ok {
		return
	}
	rec, err := h.record(def)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to encode rule")
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	if err := h.Rules.CreateRule(ctx, rec); err != nil {
		writeRuleStoreError(w, err, "persist")
		return
	}
	h.publish(ctx, bus.SubjectRuleCreated, rec.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "rule_id": rec.ID, "rule": toRuleView(rec)})
}

func (h *Handler) handleRulesList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	records, err := h.Rules.ListRules(ctx)
	if err != nil {
		writeRuleStoreError(w, err, "list")
		return
	}
	views := make([]ruleView, 0, len(records))
	for _, rec := range records {
		views = append(views, toRuleView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleRuleGetByID(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	rec, err := h.Rules.GetRule(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeRuleStoreError(w, err, "fetch")
		return
	}
	writeJSON(w, http.StatusOK, toRuleView(rec))
}

func (h *Handler) handleRuleUpdateByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := h.context(r)
	defer cancel()
	if _, err := h.Rules.GetRule(ctx, id); err != nil {
		writeRuleStoreError(w, err, "fetch")
		return
	}
	def, ok := h.compile(w, r, id)
	if !ok {
		return
	}
	rec, err := h.record(def)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to encode rule")
		return
	}
	if err := h.Rules.UpdateRule(ctx, rec); err != nil {
		writeRuleStoreError(w, err, "update")
		return
	}
	h.publish(ctx, bus.SubjectRuleUpdated, id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rule": toRuleView(rec)})
}

func (h *Handler) handleRuleEnable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *Handler) handleRuleDisable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

// setEnabled refuses to enable a stored definition that no longer compiles.
func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	ctx, cancel := h.context(r)
	defer cancel()
	if enabled {
		rec, err := h.Rules.GetRule(ctx, id)
		if err != nil {
			writeRuleStoreError(w, err, "fetch")
			return
		}
		def := toRuleView(rec).Definition
		if _, verr := rules.Compile(def, h.registry()); verr != nil {
			writeValidationError(w, verr)
			return
		}
	}
	if err := h.Rules.SetRuleEnabled(ctx, id, enabled, statusFor(enabled)); err != nil {
		writeRuleStoreError(w, err, "update")
		return
	}
	subject := bus.SubjectRuleDisabled
	if enabled {
		subject = bus.SubjectRuleEnabled
	}
	h.publish(ctx, subject, id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
