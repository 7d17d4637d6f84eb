package observations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"carewatch-backend/internal/security"
)

type Options struct {
	Type      string
	DSN       string
	Mapping   Mapping
	Allowlist security.Allowlist
	Limits    security.Limits
}

// NewSource opens the configured clinical store. Type "memory" returns an empty MemorySource.
func NewSource(ctx context.Context, opts Options) (Source, error) {
	if strings.TrimSpace(opts.Type) == "" {
		return nil, errors.New("observation source type is required")
	}
	var d dialect
	switch strings.ToLower(opts.Type) {
	case "memory":
		return NewMemorySource(), nil
	case "postgres", "postgresql":
		d = postgresDialect
	case "mysql":
		d = mysqlDialect
		opts.DSN = mysqlDSN(opts.DSN)
	case "mssql", "sqlserver":
		d = mssqlDialect
		opts.Mapping.Observations.Table = qualifyMSSQLTable(opts.Mapping.Observations.Table)
		opts.Mapping.Enrollments.Table = qualifyMSSQLTable(opts.Mapping.Enrollments.Table)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, opts.Type)
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("%s observation source requires a DSN", d.name)
	}
	if err := opts.Mapping.Validate(opts.Allowlist, d.maxSegments); err != nil {
		return nil, fmt.Errorf("observation mapping: %w", err)
	}
	db, err := sql.Open(d.driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", d.name, err)
	}
	src := newSQLSource(db, d, opts.Mapping, opts.Limits)
	if err := src.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := src.CheckSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return src, nil
}
