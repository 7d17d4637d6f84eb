package notify

import (
	"context"
	"sync"
	"time"

	"carewatch-backend/internal/alerts"
)

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// Delivery is the append-only record of one channel x recipient attempt.
type Delivery struct {
	AlertInstanceID string            `json:"alertInstanceId"`
	Kind            alerts.NoticeKind `json:"kind"`
	Channel         ChannelType       `json:"channel"`
	Recipient       string            `json:"recipient"`
	Status          DeliveryStatus    `json:"status"`
	Attempts        int               `json:"attempts"`
	Error           string            `json:"error,omitempty"`
	At              time.Time         `json:"at"`
}

type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d Delivery) error
}

// MemoryRecorder keeps deliveries in process.
type MemoryRecorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (m *MemoryRecorder) RecordDelivery(ctx context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

func (m *MemoryRecorder) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}
