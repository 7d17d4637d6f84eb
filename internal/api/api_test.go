package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/bus"
	"carewatch-backend/internal/rules"
	"carewatch-backend/internal/storage"
	"carewatch-backend/pkg/log"
)

var t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type memRules struct {
	mu      sync.Mutex
	records map[string]storage.RuleRecord
}

func (m *memRules) GetRule(ctx context.Context, id string) (storage.RuleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return storage.RuleRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (m *memRules) ListRules(ctx context.Context) ([]storage.RuleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.RuleRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRules) CreateRule(ctx context.Context, rec storage.RuleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return storage.ErrDuplicateRule
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memRules) UpdateRule(ctx context.Context, rec storage.RuleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return storage.ErrNotFound
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memRules) SetRuleEnabled(ctx context.Context, id string, enabled bool, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Enabled, rec.Status = enabled, status
	m.records[id] = rec
	return nil
}

type published struct {
	subject string
	event   bus.RuleEvent
}

type memBus struct {
	mu     sync.Mutex
	events []published
}

func (b *memBus) PublishJSON(subject string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{subject: subject, event: payload.(bus.RuleEvent)})
	return nil
}

type server struct {
	manager *alerts.Manager
	rules   *memRules
	bus     *memBus
	router  http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	manager := alerts.NewManager(alerts.Options{
		Store:  alerts.NewMemoryStore(),
		Now:    func() time.Time { return t0 },
		Logger: log.NewNop(),
	})
	s := &server{manager: manager, rules: &memRules{records: map[string]storage.RuleRecord{}}, bus: &memBus{}}
	h := &Handler{
		Alerts:   manager,
		Rules:    s.rules,
		Registry: rules.DefaultRegistry(),
		Bus:      s.bus,
		Timeout:  time.Second,
		Now:      func() time.Time { return t0 },
		Logger:   log.NewNop(),
	}
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	s.router = r
	return s
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) seedAlert(t *testing.T) alerts.Instance {
	t.Helper()
	threshold := 8.0
	rule, verr := rules.Compile(rules.Definition{
		ID:                  "pain-high",
		ConditionDefinition: rules.ConditionDefinition{Condition: "pain_scale_0_10", Operator: "greater_than_or_equal", Threshold: &threshold},
		Severity:            "HIGH",
	}, rules.DefaultRegistry())
	require.Nil(t, verr)
	d, err := s.manager.HandleTrigger(context.Background(), rule, alerts.TriggerEvent{
		RuleID: rule.ID, EnrollmentID: "enr-1", MetricKey: rule.MetricKey(), OccurredAt: t0,
	})
	require.NoError(t, err)
	return d.Instance
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAcknowledgeThenResolve(t *testing.T) {
	s := newServer(t)
	inst := s.seedAlert(t)

	rec := s.do(t, http.MethodPost, "/alerts/"+inst.ID+"/acknowledge", map[string]any{"actorId": "nurse-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/alerts/"+inst.ID+"/resolve", map[string]any{"actorId": "nurse-1", "notes": "called patient"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Ok    bool            `json:"ok"`
		Alert alerts.Instance `json:"alert"`
	}](t, rec)
	assert.True(t, body.Ok)
	assert.Equal(t, alerts.StatusResolved, body.Alert.Status)
	assert.Equal(t, "called patient", body.Alert.Notes)

	rec = s.do(t, http.MethodGet, "/alerts/"+inst.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]alerts.AuditEntry](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, "nurse-1", entries[2].Actor)
}

func TestInvalidTransitionReturnsConflict(t *testing.T) {
	s := newServer(t)
	inst := s.seedAlert(t)
	rec := s.do(t, http.MethodPost, "/alerts/"+inst.ID+"/resolve", map[string]any{"actorId": "nurse-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/alerts/"+inst.ID+"/acknowledge", map[string]any{"actorId": "nurse-1"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.False(t, body.Ok)
	assert.Equal(t, "INVALID_TRANSITION", body.Code)
	assert.Equal(t, alerts.StatusResolved, body.CurrentState)
	assert.Empty(t, body.AllowedTransitions)
}

func TestSnoozeValidation(t *testing.T) {
	s := newServer(t)
	inst := s.seedAlert(t)

	for _, minutes := range []int{0, 10081} {
		rec := s.do(t, http.MethodPost, "/alerts/"+inst.ID+"/snooze", map[string]any{"actorId": "nurse-1", "durationMinutes": minutes})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "durationMinutes", decode[errorResponse](t, rec).Details[0].Field)
	}
	rec := s.do(t, http.MethodPost, "/alerts/"+inst.ID+"/snooze", map[string]any{"durationMinutes": 30})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "actorId", decode[errorResponse](t, rec).Details[0].Field)

	rec = s.do(t, http.MethodPost, "/alerts/"+inst.ID+"/snooze", map[string]any{"actorId": "nurse-1", "durationMinutes": 30})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownAlertReturnsNotFound(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/alerts/missing/cancel", map[string]any{"actorId": "nurse-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/alerts/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/alerts/missing/audit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAlertsFilters(t *testing.T) {
	s := newServer(t)
	inst := s.seedAlert(t)

	rec := s.do(t, http.MethodGet, "/alerts?status=open&enrollmentId=enr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]alerts.Instance](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, inst.ID, list[0].ID)

	rec = s.do(t, http.MethodGet, "/alerts?status=open&enrollmentId=enr-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]alerts.Instance](t, rec))

	rec = s.do(t, http.MethodGet, "/alerts?status=RESOLVED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]alerts.Instance](t, rec))

	rec = s.do(t, http.MethodGet, "/alerts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuleLifecycle(t *testing.T) {
	s := newServer(t)
	def := map[string]any{
		"id":        "glucose-low",
		"condition": "blood_glucose",
		"operator":  "less_than",
		"threshold": 70,
		"severity":  "CRITICAL",
		"actions":   map[string]any{"notify": []string{"care_team"}},
	}

	rec := s.do(t, http.MethodPost, "/rules/validate", def)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/rules", def)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/rules", def)
	assert.Equal(t, http.StatusConflict, rec.Code)

	def["severity"] = "HIGH"
	rec = s.do(t, http.MethodPut, "/rules/glucose-low", def)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/rules/glucose-low/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/rules/glucose-low", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[ruleView](t, rec)
	assert.False(t, view.Enabled)
	assert.Equal(t, storage.RuleStatusDisabled, view.Status)
	assert.Equal(t, "HIGH", view.Definition.Severity)

	rec = s.do(t, http.MethodPost, "/rules/glucose-low/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ruleView](t, rec), 1)

	subjects := make([]string, 0, len(s.bus.events))
	for _, e := range s.bus.events {
		subjects = append(subjects, e.subject)
		assert.Equal(t, "glucose-low", e.event.RuleID)
	}
	assert.Equal(t, []string{"rule.created", "rule.updated", "rule.disabled", "rule.enabled"}, subjects)
}

func TestRuleValidationErrors(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/rules/validate", map[string]any{
		"id":        "pain",
		"condition": "pain_scale_0_10",
		"operator":  "greater_than",
		"threshold": 42,
		"severity":  "URGENT",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "RULE_SCHEMA_INVALID", body.Code)
	fields := map[string]bool{}
	for _, d := range body.Details {
		fields[d.Field] = true
	}
	assert.True(t, fields["threshold"])
	assert.True(t, fields["severity"])

	rec = s.do(t, http.MethodPost, "/rules/validate", map[string]any{"condition": "pain_scale_0_10", "mystery": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/rules/unknown", map[string]any{"condition": "mood"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.bus.events)
}

func TestConditionsCatalog(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/conditions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	catalog := decode[[]rules.CatalogEntry](t, rec)
	names := map[string]bool{}
	for _, c := range catalog {
		names[c.Name] = true
	}
	assert.True(t, names["blood_glucose"])
	assert.True(t, names["no_reading"])
}
