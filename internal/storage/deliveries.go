package storage

import (
	"context"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/notify"
)

type DeliveryRepository struct {
	Store *Store
}

func NewDeliveryRepository(store *Store) *DeliveryRepository {
	return &DeliveryRepository{Store: store}
}

var _ notify.DeliveryRecorder = (*DeliveryRepository)(nil)

func (r *DeliveryRepository) RecordDelivery(ctx context.Context, d notify.Delivery) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO notification_deliveries (alert_instance_id, kind, channel, recipient, status, attempts, error, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.AlertInstanceID, string(d.Kind), string(d.Channel), d.Recipient, string(d.Status), d.Attempts, d.Error, d.At,
	)
	return err
}

func (r *DeliveryRepository) ListDeliveries(ctx context.Context, instanceID string) ([]notify.Delivery, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT alert_instance_id, kind, channel, recipient, status, attempts, error, at
		FROM notification_deliveries WHERE alert_instance_id=$1 ORDER BY at, id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []notify.Delivery{}
	for rows.Next() {
		var (
			d                     notify.Delivery
			kind, channel, status string
		)
		if err := rows.Scan(&d.AlertInstanceID, &kind, &channel, &d.Recipient, &status, &d.Attempts, &d.Error, &d.At); err != nil {
			return nil, err
		}
		d.Kind = alerts.NoticeKind(kind)
		d.Channel = notify.ChannelType(channel)
		d.Status = notify.DeliveryStatus(status)
		results = append(results, d)
	}
	return results, rows.Err()
}
