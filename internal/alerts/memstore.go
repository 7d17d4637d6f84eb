package alerts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. The open-key index enforces one open instance per dedupe key.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]Instance
	openByKey map[string]string
	audit     map[string][]AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: map[string]Instance{},
		openByKey: map[string]string{},
		audit:     map[string][]AuditEntry{},
	}
}

func (s *MemoryStore) CreateInstance(ctx context.Context, inst Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !inst.Status.Terminal() {
		if _, ok := s.openByKey[inst.DedupeKey]; ok {
			return ErrDuplicateOpen
		}
	}
	s.put(inst, 1)
	return nil
}

func (s *MemoryStore) UpdateInstance(ctx context.Context, inst Instance) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUpdate(inst); err != nil {
		return Instance{}, err
	}
	return s.put(inst, inst.Version+1), nil
}

// Supersede requires old to be terminal; next takes over its dedupe key.
func (s *MemoryStore) Supersede(ctx context.Context, old, next Instance) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !old.Status.Terminal() {
		return Instance{}, ErrDuplicateOpen
	}
	if err := s.checkUpdate(old); err != nil {
		return Instance{}, err
	}
	if owner, ok := s.openByKey[next.DedupeKey]; ok && owner != old.ID {
		return Instance{}, ErrDuplicateOpen
	}
	updated := s.put(old, old.Version+1)
	s.put(next, 1)
	return updated, nil
}

func (s *MemoryStore) checkUpdate(inst Instance) error {
	current, ok := s.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != inst.Version {
		return ErrConflict
	}
	if !inst.Status.Terminal() {
		if owner, ok := s.openByKey[inst.DedupeKey]; ok && owner != inst.ID {
			return ErrDuplicateOpen
		}
	}
	return nil
}

func (s *MemoryStore) put(inst Instance, version int64) Instance {
	inst.Version = version
	s.instances[inst.ID] = inst
	if !inst.Status.Terminal() {
		s.openByKey[inst.DedupeKey] = inst.ID
		return inst
	}
	if s.openByKey[inst.DedupeKey] != inst.ID {
		return inst
	}
	delete(s.openByKey, inst.DedupeKey)
	// seeded duplicates may still hold the key
	for id, other := range s.instances {
		if other.DedupeKey == inst.DedupeKey && !other.Status.Terminal() {
			s.openByKey[inst.DedupeKey] = id
			break
		}
	}
	return inst
}

func (s *MemoryStore) GetInstance(ctx context.Context, id string) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return Instance{}, ErrNotFound
	}
	return inst, nil
}

func (s *MemoryStore) OpenByDedupeKey(ctx context.Context, key string) ([]Instance, error) {
	return s.ListInstances(ctx, Filter{Open: true, dedupeKey: key})
}

func (s *MemoryStore) ListInstances(ctx context.Context, f Filter) ([]Instance, error) {
	s.mu.Lock()
	out := make([]Instance, 0)
	for _, inst := range s.instances {
		if f.Matches(inst) {
			out = append(out, inst)
		}
	}
	s.mu.Unlock()
	sortOldestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DueForEscalation(ctx context.Context, now time.Time) ([]Instance, error) {
	s.mu.Lock()
	out := make([]Instance, 0)
	for _, inst := range s.instances {
		if dueForEscalation(inst, now) {
			out = append(out, inst)
		}
	}
	s.mu.Unlock()
	sortOldestFirst(out)
	return out, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[entry.AlertInstanceID] = append(s.audit[entry.AlertInstanceID], entry)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, instanceID string) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.audit[instanceID]
	out := make([]AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Seed stores inst as-is, bypassing the open-key check. Tests use it to fabricate duplicates.
func (s *MemoryStore) Seed(inst Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.Version == 0 {
		inst.Version = 1
	}
	s.instances[inst.ID] = inst
	if !inst.Status.Terminal() {
		if _, ok := s.openByKey[inst.DedupeKey]; !ok {
			s.openByKey[inst.DedupeKey] = inst.ID
		}
	}
}

func dueForEscalation(inst Instance, now time.Time) bool {
	if inst.Status != StatusPending && inst.Status != StatusAcknowledged {
		return false
	}
	if inst.EscalatedAt != nil || inst.SLABreachTime == nil {
		return false
	}
	return !inst.SLABreachTime.After(now)
}

func sortOldestFirst(list []Instance) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].TriggeredAt.Equal(list[j].TriggeredAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].TriggeredAt.Before(list[j].TriggeredAt)
	})
}
