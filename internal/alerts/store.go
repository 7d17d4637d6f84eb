package alerts

import (
	"context"
	"time"
)

// Store persists instances and their audit trail.
//
// CreateInstance fails with ErrDuplicateOpen when a non-terminal instance already holds the
// dedupe key. UpdateInstance is a compare-and-set on Version; it returns the stored row with
// the bumped version or ErrConflict.
type Store interface {
	CreateInstance(ctx context.Context, inst Instance) error
	UpdateInstance(ctx context.Context, inst Instance) (Instance, error)
	// Supersede applies the update of old and creates next atomically.
	Supersede(ctx context.Context, old, next Instance) (Instance, error)
	GetInstance(ctx context.Context, id string) (Instance, error)
	// OpenByDedupeKey returns the non-terminal instances for key, oldest first.
	OpenByDedupeKey(ctx context.Context, key string) ([]Instance, error)
	ListInstances(ctx context.Context, f Filter) ([]Instance, error)
	// DueForEscalation returns PENDING or ACKNOWLEDGED instances breached at or before now and never escalated.
	DueForEscalation(ctx context.Context, now time.Time) ([]Instance, error)
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, instanceID string) ([]AuditEntry, error)
}
