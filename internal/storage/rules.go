package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"carewatch-backend/internal/rules"
)

type RuleRepository struct {
	Store *Store
}

func NewRuleRepository(store *Store) *RuleRepository {
	return &RuleRepository{Store: store}
}

const ruleColumns = `id, name, definition, enabled, status, last_error, last_validated_at, created_at, updated_at`

func scanRule(row pgx.Row) (RuleRecord, error) {
	var rec RuleRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.Definition, &rec.Enabled, &rec.Status, &rec.LastError, &rec.LastValidatedAt, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func (r *RuleRepository) GetRule(ctx context.Context, id string) (RuleRecord, error) {
	rec, err := scanRule(r.Store.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return RuleRecord{}, ErrNotFound
	}
	return rec, err
}

func (r *RuleRepository) ListRules(ctx context.Context) ([]RuleRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []RuleRecord{}
	for rows.Next() {
		rec, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// CreateRule fails with ErrDuplicateRule when the id is taken.
func (r *RuleRepository) CreateRule(ctx context.Context, rec RuleRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_rules (id, name, definition, enabled, status, last_error, last_validated_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())`,
		rec.ID, rec.Name, rec.Definition, rec.Enabled, rec.Status, rec.LastError, rec.LastValidatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateRule
	}
	return err
}

func (r *RuleRepository) UpdateRule(ctx context.Context, rec RuleRecord) error {
	tag, err := r.Store.Pool.Exec(ctx, `
		UPDATE alert_rules
		SET name=$1, definition=$2, enabled=$3, status=$4, last_error=$5, last_validated_at=$6, updated_at=now()
		WHERE id=$7`,
		rec.Name, rec.Definition, rec.Enabled, rec.Status, rec.LastError, rec.LastValidatedAt, rec.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RuleRepository) SetRuleEnabled(ctx context.Context, id string, enabled bool, status string) error {
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE alert_rules SET enabled=$1, status=$2, updated_at=now() WHERE id=$3`, enabled, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInvalid records why a stored rule was excluded from the active set.
func (r *RuleRepository) MarkInvalid(ctx context.Context, id string, verr *rules.ValidationError) error {
	payload, err := json.Marshal(verr)
	if err != nil {
		return fmt.Errorf("marshal validation error: %w", err)
	}
	_, err = r.Store.Pool.Exec(ctx, `
		UPDATE alert_rules SET status=$1, last_error=$2, last_validated_at=$3, updated_at=now() WHERE id=$4`,
		RuleStatusInvalid, payload, time.Now().UTC(), id)
	return err
}

// Definitions decodes every stored rule. Records whose JSON cannot be decoded are
// returned as definitions carrying only their id, so compilation reports them invalid.
func (r *RuleRepository) Definitions(ctx context.Context) ([]rules.Definition, error) {
	records, err := r.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]rules.Definition, 0, len(records))
	for _, rec := range records {
		var def rules.Definition
		if err := json.Unmarshal(rec.Definition, &def); err != nil {
			def = rules.Definition{ID: rec.ID}
		}
		def.ID = rec.ID
		enabled := rec.Enabled
		def.Enabled = &enabled
		defs = append(defs, def)
	}
	return defs, nil
}
