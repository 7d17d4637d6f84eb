package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"carewatch-backend/internal/alerts"
)

func TestInstanceFilter(t *testing.T) {
	where, args := instanceFilter(alerts.Filter{})
	assert.Equal(t, "", where)
	assert.Nil(t, args)

	where, args = instanceFilter(alerts.Filter{Open: true, Status: alerts.StatusPending, EnrollmentID: "enr-1"})
	assert.Equal(t, " WHERE status NOT IN ('RESOLVED','CANCELLED') AND enrollment_id=$1", where)
	assert.Equal(t, []any{"enr-1"}, args)

	where, args = instanceFilter(alerts.Filter{Status: alerts.StatusEscalated, RuleID: "glucose-low", EnrollmentID: "enr-2"})
	assert.Equal(t, " WHERE status=$1 AND enrollment_id=$2 AND rule_id=$3", where)
	assert.Equal(t, []any{"ESCALATED", "enr-2", "glucose-low"}, args)
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(wrapped))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))
}

func TestNullStatus(t *testing.T) {
	assert.Nil(t, nullStatus(""))
	got := nullStatus(alerts.StatusAcknowledged)
	if assert.NotNil(t, got) {
		assert.Equal(t, "ACKNOWLEDGED", *got)
	}
}
