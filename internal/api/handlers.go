package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/notify"
	"carewatch-backend/internal/rules"
	"carewatch-backend/internal/storage"
	"carewatch-backend/pkg/log"
)

// AlertService is the command and read surface of the alert manager.
type AlertService interface {
	Acknowledge(ctx context.Context, id, actor string) (alerts.Instance, error)
	Resolve(ctx context.Context, id, actor, notes string) (alerts.Instance, error)
	Snooze(ctx context.Context, id, actor string, minutes int) (alerts.Instance, error)
	Cancel(ctx context.Context, id, actor string) (alerts.Instance, error)
	Get(ctx context.Context, id string) (alerts.Instance, error)
	List(ctx context.Context, f alerts.Filter) ([]alerts.Instance, error)
	Audit(ctx context.Context, id string) ([]alerts.AuditEntry, error)
}

type RuleStore interface {
	GetRule(ctx context.Context, id string) (storage.RuleRecord, error)
	ListRules(ctx context.Context) ([]storage.RuleRecord, error)
	CreateRule(ctx context.Context, rec storage.RuleRecord) error
	UpdateRule(ctx context.Context, rec storage.RuleRecord) error
	SetRuleEnabled(ctx context.Context, id string, enabled bool, status string) error
}

type DeliveryStore interface {
	ListDeliveries(ctx context.Context, instanceID string) ([]notify.Delivery, error)
}

type EventPublisher interface {
	PublishJSON(subject string, payload any) error
}

type Handler struct {
	Alerts     AlertService
	Rules      RuleStore
	Registry   *rules.Registry
	Deliveries DeliveryStore
	Bus        EventPublisher
	Timeout    time.Duration
	Now        func() time.Time
	Logger     log.Logger
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conditions", h.handleConditions)
	r.Post("/rules/validate", h.handleRulesValidate)
	r.Route("/rules", func(r chi.Router) {
		r.Post("/", h.handleRulesCreate)
		r.Get("/", h.handleRulesList)
		r.Get("/{id}", h.handleRuleGetByID)
		r.Put("/{id}", h.handleRuleUpdateByID)
		r.Post("/{id}/enable", h.handleRuleEnable)
		r.Post("/{id}/disable", h.handleRuleDisable)
	})
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.handleAlertsList)
		r.Get("/{id}", h.handleAlertGet)
		r.Get("/{id}/audit", h.handleAlertAudit)
		r.Get("/{id}/deliveries", h.handleAlertDeliveries)
		r.Post("/{id}/acknowledge", h.handleAcknowledge)
		r.Post("/{id}/resolve", h.handleResolve)
		r.Post("/{id}/snooze", h.handleSnooze)
		r.Post("/{id}/cancel", h.handleCancel)
	})
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *Handler) logger() log.Logger {
	if h.Logger == nil {
		return log.NewNop()
	}
	return h.Logger
}

func (h *Handler) registry() *rules.Registry {
	if h.Registry == nil {
		return rules.DefaultRegistry()
	}
	return h.Registry
}

func (h *Handler) handleConditions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry().Catalog())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
