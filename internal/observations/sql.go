package observations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"carewatch-backend/internal/security"
)

// dialect captures the syntax differences between the supported drivers.
type dialect struct {
	name        string
	driver      string
	maxSegments int
	quote       func(string) string
	placeholder func(n int) string
	// topLimit puts the row limit in SELECT TOP (...) as the first parameter.
	topLimit bool
	trueLit  string
}

func (d dialect) qualified(ident string) string {
	parts := strings.Split(ident, ".")
	for i, part := range parts {
		parts[i] = d.quote(part)
	}
	return strings.Join(parts, ".")
}

// SQLSource reads observations and enrollments from an external clinical database.
type SQLSource struct {
	db      *sql.DB
	dialect dialect
	mapping Mapping
	limits  security.Limits

	recentSQL      string
	enrollmentsSQL string
}

func newSQLSource(db *sql.DB, d dialect, m Mapping, limits security.Limits) *SQLSource {
	return &SQLSource{
		db:             db,
		dialect:        d,
		mapping:        m,
		limits:         limits,
		recentSQL:      buildRecentQuery(d, m.Observations),
		enrollmentsSQL: buildEnrollmentsQuery(d, m.Enrollments),
	}
}

func buildRecentQuery(d dialect, t ObservationTable) string {
	cols := []string{d.quote(t.EnrollmentColumn), d.quote(t.MetricColumn)}
	if t.NumericValueColumn != "" {
		cols = append(cols, d.quote(t.NumericValueColumn))
	}
	if t.TextValueColumn != "" {
		cols = append(cols, d.quote(t.TextValueColumn))
	}
	cols = append(cols, d.quote(t.RecordedAtColumn))

	offset := 0
	var b strings.Builder
	b.WriteString("SELECT ")
	if d.topLimit {
		fmt.Fprintf(&b, "TOP (%s) ", d.placeholder(1))
		offset = 1
	}
	b.WriteString(strings.Join(cols, ", "))
	fmt.Fprintf(&b, " FROM %s WHERE %s = %s AND %s = %s AND %s > %s ORDER BY %s DESC",
		d.qualified(t.Table),
		d.quote(t.EnrollmentColumn), d.placeholder(offset+1),
		d.quote(t.MetricColumn), d.placeholder(offset+2),
		d.quote(t.RecordedAtColumn), d.placeholder(offset+3),
		d.quote(t.RecordedAtColumn),
	)
	if !d.topLimit {
		fmt.Fprintf(&b, " LIMIT %s", d.placeholder(4))
	}
	return b.String()
}

func buildEnrollmentsQuery(d dialect, t EnrollmentTable) string {
	cols := []string{d.quote(t.IDColumn)}
	if t.PatientColumn != "" {
		cols = append(cols, d.quote(t.PatientColumn))
	}
	if t.ProgramColumn != "" {
		cols = append(cols, d.quote(t.ProgramColumn))
	}
	cols = append(cols, d.quote(t.EnrolledAtColumn))
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), d.qualified(t.Table))
	if t.ActiveColumn != "" {
		query += fmt.Sprintf(" WHERE %s = %s", d.quote(t.ActiveColumn), d.trueLit)
	}
	return query + fmt.Sprintf(" ORDER BY %s", d.quote(t.IDColumn))
}

// buildProbeQuery selects the mapped columns without returning rows, so a
// missing table or column fails at startup instead of on the first cycle.
func buildProbeQuery(d dialect, table string, columns ...string) string {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != "" {
			cols = append(cols, d.quote(c))
		}
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE 1 = 0", strings.Join(cols, ", "), d.qualified(table))
}

func (s *SQLSource) probeQueries() []string {
	o, e := s.mapping.Observations, s.mapping.Enrollments
	return []string{
		buildProbeQuery(s.dialect, o.Table, o.EnrollmentColumn, o.MetricColumn, o.NumericValueColumn, o.TextValueColumn, o.RecordedAtColumn),
		buildProbeQuery(s.dialect, e.Table, e.IDColumn, e.PatientColumn, e.ProgramColumn, e.EnrolledAtColumn, e.ActiveColumn),
	}
}

// CheckSchema verifies that the mapped tables and columns exist.
func (s *SQLSource) CheckSchema(ctx context.Context) error {
	for _, query := range s.probeQueries() {
		qctx, cancel := s.queryContext(ctx)
		rows, err := s.db.QueryContext(qctx, query)
		if err != nil {
			cancel()
			return fmt.Errorf("check %s schema: %w", s.dialect.name, err)
		}
		_ = rows.Close()
		cancel()
	}
	return nil
}

func (s *SQLSource) recentArgs(q Query, since time.Time, limit int) []any {
	if s.dialect.topLimit {
		return []any{limit, q.EnrollmentID, q.MetricKey, since}
	}
	return []any{q.EnrollmentID, q.MetricKey, since, limit}
}

func (s *SQLSource) Recent(ctx context.Context, q Query) ([]Observation, error) {
	limit := q.Limit
	if limit <= 0 || (s.limits.MaxSampleRows > 0 && limit > s.limits.MaxSampleRows) {
		limit = s.limits.MaxSampleRows
	}
	since := q.Since
	if since.IsZero() {
		since = time.Unix(0, 0).UTC()
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.recentSQL, s.recentArgs(q, since, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query %s observations: %w", s.dialect.name, err)
	}
	defer rows.Close()

	t := s.mapping.Observations
	results := make([]Observation, 0)
	for rows.Next() {
		var (
			obs     Observation
			numeric sql.NullFloat64
			text    sql.NullString
		)
		dest := []any{&obs.EnrollmentID, &obs.MetricKey}
		if t.NumericValueColumn != "" {
			dest = append(dest, &numeric)
		}
		if t.TextValueColumn != "" {
			dest = append(dest, &text)
		}
		dest = append(dest, &obs.RecordedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s observation: %w", s.dialect.name, err)
		}
		switch {
		case numeric.Valid:
			obs.Value = numeric.Float64
		case text.Valid:
			obs.Value = text.String
		default:
			continue
		}
		results = append(results, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s observations: %w", s.dialect.name, err)
	}
	return results, nil
}

func (s *SQLSource) ActiveEnrollments(ctx context.Context) ([]Enrollment, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.enrollmentsSQL)
	if err != nil {
		return nil, fmt.Errorf("query %s enrollments: %w", s.dialect.name, err)
	}
	defer rows.Close()

	t := s.mapping.Enrollments
	results := make([]Enrollment, 0)
	for rows.Next() {
		var (
			e                Enrollment
			patient, program sql.NullString
			enrolledAt       sql.NullTime
		)
		dest := []any{&e.ID}
		if t.PatientColumn != "" {
			dest = append(dest, &patient)
		}
		if t.ProgramColumn != "" {
			dest = append(dest, &program)
		}
		dest = append(dest, &enrolledAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s enrollment: %w", s.dialect.name, err)
		}
		e.PatientID = patient.String
		e.ProgramID = program.String
		if enrolledAt.Valid {
			e.EnrolledAt = enrolledAt.Time
		}
		e.Active = true
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s enrollments: %w", s.dialect.name, err)
	}
	return results, nil
}

func (s *SQLSource) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect.name, err)
	}
	return nil
}

func (s *SQLSource) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLSource) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.limits.MaxQueryDuration <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.limits.MaxQueryDuration)
}
