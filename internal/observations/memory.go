package observations

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemorySource is an in-process Source for tests and local runs.
type MemorySource struct {
	mu           sync.RWMutex
	enrollments  map[string]Enrollment
	observations []Observation
	Err          error
}

func NewMemorySource() *MemorySource {
	return &MemorySource{enrollments: map[string]Enrollment{}}
}

func (m *MemorySource) PutEnrollment(e Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.ID] = e
}

func (m *MemorySource) Add(obs ...Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, obs...)
}

func (m *MemorySource) ActiveEnrollments(ctx context.Context) ([]Enrollment, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Enrollment, 0, len(m.enrollments))
	for _, e := range m.enrollments {
		if e.Active {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Enrollment) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemorySource) Recent(ctx context.Context, q Query) ([]Observation, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	out := make([]Observation, 0)
	for _, o := range m.observations {
		if o.EnrollmentID != q.EnrollmentID || o.MetricKey != q.MetricKey {
			continue
		}
		if !q.Since.IsZero() && !o.RecordedAt.After(q.Since) {
			continue
		}
		out = append(out, o)
	}
	m.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b Observation) int {
		return b.RecordedAt.Compare(a.RecordedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemorySource) Close() error { return nil }
