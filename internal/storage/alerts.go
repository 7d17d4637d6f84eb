package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/rules"
)

const instanceColumns = `id, rule_id, enrollment_id, metric_key, severity, status, prior_status, dedupe_key,
	triggered_at, last_triggered_at, sla_breach_time, acknowledged_at, resolved_at, snooze_until,
	escalated_at, cleared_since, escalation_level, evidence, notes, version`

// AlertRepository is the Postgres alerts.Store. The partial unique index on
// alert_instances(dedupe_key) for open statuses backs ErrDuplicateOpen.
type AlertRepository struct {
	Store *Store
}

func NewAlertRepository(store *Store) *AlertRepository {
	return &AlertRepository{Store: store}
}

var _ alerts.Store = (*AlertRepository)(nil)

func (r *AlertRepository) CreateInstance(ctx context.Context, inst alerts.Instance) error {
	return insertInstance(ctx, r.Store.Pool, inst)
}

func insertInstance(ctx context.Context, q querier, inst alerts.Instance) error {
	_, err := q.Exec(ctx, `
		INSERT INTO alert_instances (`+instanceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,1)`,
		inst.ID, inst.RuleID, inst.EnrollmentID, inst.MetricKey, string(inst.Severity), string(inst.Status),
		nullStatus(inst.PriorStatus), inst.DedupeKey, inst.TriggeredAt, inst.LastTriggeredAt, inst.SLABreachTime,
		inst.AcknowledgedAt, inst.ResolvedAt, inst.SnoozeUntil, inst.EscalatedAt, inst.ClearedSince,
		inst.EscalationLevel, []byte(inst.Evidence), inst.Notes,
	)
	if isUniqueViolation(err) {
		return alerts.ErrDuplicateOpen
	}
	return err
}

func (r *AlertRepository) UpdateInstance(ctx context.Context, inst alerts.Instance) (alerts.Instance, error) {
	return updateInstance(ctx, r.Store.Pool, inst)
}

func updateInstance(ctx context.Context, q querier, inst alerts.Instance) (alerts.Instance, error) {
	var version int64
	err := q.QueryRow(ctx, `
		UPDATE alert_instances
		SET status=$3, prior_status=$4, last_triggered_at=$5, acknowledged_at=$6, resolved_at=$7,
			snooze_until=$8, escalated_at=$9, cleared_since=$10, escalation_level=$11, notes=$12,
			version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2
		RETURNING version`,
		inst.ID, inst.Version, string(inst.Status), nullStatus(inst.PriorStatus), inst.LastTriggeredAt,
		inst.AcknowledgedAt, inst.ResolvedAt, inst.SnoozeUntil, inst.EscalatedAt, inst.ClearedSince,
		inst.EscalationLevel, inst.Notes,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alert_instances WHERE id=$1)`, inst.ID).Scan(&exists); err != nil {
			return alerts.Instance{}, err
		}
		if !exists {
			return alerts.Instance{}, alerts.ErrNotFound
		}
		return alerts.Instance{}, alerts.ErrConflict
	}
	if isUniqueViolation(err) {
		return alerts.Instance{}, alerts.ErrDuplicateOpen
	}
	if err != nil {
		return alerts.Instance{}, err
	}
	inst.Version = version
	return inst, nil
}

func (r *AlertRepository) Supersede(ctx context.Context, old, next alerts.Instance) (alerts.Instance, error) {
	var updated alerts.Instance
	err := pgx.BeginFunc(ctx, r.Store.Pool, func(tx pgx.Tx) error {
		var err error
		if updated, err = updateInstance(ctx, tx, old); err != nil {
			return err
		}
		return insertInstance(ctx, tx, next)
	})
	if err != nil {
		return alerts.Instance{}, err
	}
	return updated, nil
}

func (r *AlertRepository) GetInstance(ctx context.Context, id string) (alerts.Instance, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM alert_instances WHERE id=$1`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return alerts.Instance{}, alerts.ErrNotFound
	}
	return inst, err
}

func (r *AlertRepository) OpenByDedupeKey(ctx context.Context, key string) ([]alerts.Instance, error) {
	return r.queryInstances(ctx, `SELECT `+instanceColumns+` FROM alert_instances
		WHERE dedupe_key=$1 AND status NOT IN ('RESOLVED','CANCELLED')
		ORDER BY triggered_at, id`, key)
}

func (r *AlertRepository) ListInstances(ctx context.Context, f alerts.Filter) ([]alerts.Instance, error) {
	where, args := instanceFilter(f)
	query := `SELECT ` + instanceColumns + ` FROM alert_instances` + where + ` ORDER BY triggered_at, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.queryInstances(ctx, query, args...)
}

func instanceFilter(f alerts.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Open {
		clauses = append(clauses, "status NOT IN ('RESOLVED','CANCELLED')")
	} else if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.EnrollmentID != "" {
		add("enrollment_id=$%d", f.EnrollmentID)
	}
	if f.RuleID != "" {
		add("rule_id=$%d", f.RuleID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *AlertRepository) DueForEscalation(ctx context.Context, now time.Time) ([]alerts.Instance, error) {
	return r.queryInstances(ctx, `SELECT `+instanceColumns+` FROM alert_instances
		WHERE status IN ('PENDING','ACKNOWLEDGED') AND escalated_at IS NULL
			AND sla_breach_time IS NOT NULL AND sla_breach_time <= $1
		ORDER BY sla_breach_time, id`, now)
}

func (r *AlertRepository) AppendAudit(ctx context.Context, e alerts.AuditEntry) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_audit (id, alert_instance_id, action, from_status, to_status, actor, notes, evidence, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.AlertInstanceID, string(e.Action), nullStatus(e.FromStatus), string(e.ToStatus), e.Actor, e.Notes, []byte(e.Evidence), e.At,
	)
	return err
}

func (r *AlertRepository) ListAudit(ctx context.Context, instanceID string) ([]alerts.AuditEntry, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, alert_instance_id, action, from_status, to_status, actor, notes, evidence, at
		FROM alert_audit WHERE alert_instance_id=$1 ORDER BY at, seq`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []alerts.AuditEntry{}
	for rows.Next() {
		var (
			e          alerts.AuditEntry
			action, to string
			from       *string
			evidence   []byte
		)
		if err := rows.Scan(&e.ID, &e.AlertInstanceID, &action, &from, &to, &e.Actor, &e.Notes, &evidence, &e.At); err != nil {
			return nil, err
		}
		e.Action = alerts.Action(action)
		e.ToStatus = alerts.Status(to)
		if from != nil {
			e.FromStatus = alerts.Status(*from)
		}
		e.Evidence = evidence
		results = append(results, e)
	}
	return results, rows.Err()
}

func (r *AlertRepository) queryInstances(ctx context.Context, query string, args ...any) ([]alerts.Instance, error) {
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []alerts.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, inst)
	}
	return results, rows.Err()
}

func scanInstance(row pgx.Row) (alerts.Instance, error) {
	var (
		inst             alerts.Instance
		severity, status string
		prior            *string
		evidence         []byte
	)
	err := row.Scan(&inst.ID, &inst.RuleID, &inst.EnrollmentID, &inst.MetricKey, &severity, &status, &prior, &inst.DedupeKey,
		&inst.TriggeredAt, &inst.LastTriggeredAt, &inst.SLABreachTime, &inst.AcknowledgedAt, &inst.ResolvedAt, &inst.SnoozeUntil,
		&inst.EscalatedAt, &inst.ClearedSince, &inst.EscalationLevel, &evidence, &inst.Notes, &inst.Version)
	if err != nil {
		return alerts.Instance{}, err
	}
	inst.Severity = rules.Severity(severity)
	inst.Status = alerts.Status(status)
	if prior != nil {
		inst.PriorStatus = alerts.Status(*prior)
	}
	inst.Evidence = evidence
	return inst, nil
}

func nullStatus(s alerts.Status) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}
