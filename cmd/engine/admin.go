package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/rules"
	"carewatch-backend/pkg/log"
)

type ruleLoader interface {
	Snapshot() *rules.Set
	Reload(ctx context.Context) (*rules.Set, error)
}

type sweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]alerts.EscalationEvent, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type admin struct {
	rules  ruleLoader
	sweep  sweeper
	db     pinger
	now    func() time.Time
	logger log.Logger
}

func newAdmin(loader ruleLoader, sweep sweeper, db pinger, logger log.Logger) *admin {
	return &admin{rules: loader, sweep: sweep, db: db, now: time.Now, logger: logger}
}

type ruleSummary struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Severity rules.Severity `json:"severity"`
	Metric   string         `json:"metricKey"`
}

type rulesResponse struct {
	Active  []ruleSummary                     `json:"active"`
	Invalid map[string]*rules.ValidationError `json:"invalid"`
}

func summarize(set *rules.Set) rulesResponse {
	resp := rulesResponse{Active: []ruleSummary{}, Invalid: map[string]*rules.ValidationError{}}
	for _, r := range set.Active() {
		resp.Active = append(resp.Active, ruleSummary{ID: r.ID, Name: r.Name, Severity: r.Severity, Metric: r.MetricKey()})
	}
	for id, verr := range set.Invalid() {
		resp.Invalid[id] = verr
	}
	sort.Slice(resp.Active, func(i, j int) bool { return resp.Active[i].ID < resp.Active[j].ID })
	return resp
}

func (a *admin) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if a.db != nil {
			if err := a.db.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("/rules", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, summarize(a.rules.Snapshot()))
	})
	mux.HandleFunc("/rules/reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		set, err := a.rules.Reload(ctx)
		if err != nil {
			a.logger.Errorf(ctx, "engine.admin: reload: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "active": len(set.Active()), "invalid": len(set.Invalid())})
	})
	mux.HandleFunc("/sweep", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		events, err := a.sweep.Sweep(ctx, a.now())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "escalated": events})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
