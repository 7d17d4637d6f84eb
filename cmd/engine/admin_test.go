package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/rules"
	"carewatch-backend/pkg/log"
)

type stubRules struct {
	set     *rules.Set
	reloads int
	err     error
}

func (s *stubRules) Snapshot() *rules.Set { return s.set }

func (s *stubRules) Reload(ctx context.Context) (*rules.Set, error) {
	s.reloads++
	return s.set, s.err
}

type stubSweeper struct {
	calls int
}

func (s *stubSweeper) Sweep(ctx context.Context, now time.Time) ([]alerts.EscalationEvent, error) {
	s.calls++
	return []alerts.EscalationEvent{{AlertInstanceID: "a-1", EscalationLevel: 1, OccurredAt: now}}, nil
}

type stubDB struct{ err error }

func (s stubDB) Ping(ctx context.Context) error { return s.err }

func testSet() *rules.Set {
	threshold := 70.0
	return rules.NewSet(rules.DefaultRegistry(), []rules.Definition{
		{
			ID:                  "glucose-low",
			ConditionDefinition: rules.ConditionDefinition{Condition: "blood_glucose", Operator: "less_than", Threshold: &threshold},
			Severity:            "CRITICAL",
		},
		{ID: "broken", ConditionDefinition: rules.ConditionDefinition{Condition: "unknown"}, Severity: "LOW"},
	})
}

func TestAdminRules(t *testing.T) {
	a := newAdmin(&stubRules{set: testSet()}, &stubSweeper{}, stubDB{}, log.NewNop())
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body rulesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Active) != 1 || body.Active[0].ID != "glucose-low" {
		t.Fatalf("unexpected active rules: %+v", body.Active)
	}
	if _, ok := body.Invalid["broken"]; !ok {
		t.Fatalf("expected broken rule to be listed as invalid")
	}
}

func TestAdminReloadAndSweepRequirePost(t *testing.T) {
	loader := &stubRules{set: testSet()}
	sweep := &stubSweeper{}
	h := newAdmin(loader, sweep, stubDB{}, log.NewNop()).routes()

	for _, path := range []string{"/rules/reload", "/sweep"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules/reload", nil))
	if rec.Code != http.StatusOK || loader.reloads != 1 {
		t.Fatalf("reload: code=%d reloads=%d", rec.Code, loader.reloads)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sweep", nil))
	if rec.Code != http.StatusOK || sweep.calls != 1 {
		t.Fatalf("sweep: code=%d calls=%d", rec.Code, sweep.calls)
	}
	if !strings.Contains(rec.Body.String(), `"alertInstanceId":"a-1"`) {
		t.Fatalf("sweep body missing event: %s", rec.Body.String())
	}
}

func TestAdminReloadFailure(t *testing.T) {
	loader := &stubRules{set: testSet(), err: errors.New("store unavailable")}
	rec := httptest.NewRecorder()
	newAdmin(loader, &stubSweeper{}, stubDB{}, log.NewNop()).routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules/reload", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestAdminHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newAdmin(&stubRules{set: testSet()}, &stubSweeper{}, stubDB{}, log.NewNop()).routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newAdmin(&stubRules{set: testSet()}, &stubSweeper{}, stubDB{err: errors.New("down")}, log.NewNop()).routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
