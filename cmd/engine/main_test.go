package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/pkg/log"
)

type failingReconciler struct{}

func (failingReconciler) Reconcile(ctx context.Context) (int, error) {
	return 0, errors.New("store unavailable")
}

func TestReconcileAtStartCancelsDuplicates(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store := alerts.NewMemoryStore()
	store.Seed(alerts.Instance{ID: "a", DedupeKey: "k", Status: alerts.StatusPending, TriggeredAt: at, LastTriggeredAt: at})
	store.Seed(alerts.Instance{ID: "b", DedupeKey: "k", Status: alerts.StatusPending, TriggeredAt: at.Add(time.Minute), LastTriggeredAt: at.Add(time.Minute)})
	manager := alerts.NewManager(alerts.Options{Store: store, Now: func() time.Time { return at }, Logger: log.NewNop()})
	ctx := context.Background()

	if n := reconcileAtStart(ctx, manager, log.NewNop()); n != 1 {
		t.Fatalf("expected 1 cancelled duplicate, got %d", n)
	}
	open, err := store.OpenByDedupeKey(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ID != "a" {
		t.Fatalf("expected only a open, got %+v", open)
	}
}

func TestReconcileAtStartToleratesErrors(t *testing.T) {
	if n := reconcileAtStart(context.Background(), failingReconciler{}, log.NewNop()); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
}
