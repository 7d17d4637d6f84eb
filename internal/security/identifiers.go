package security

import (
	"regexp"
	"slices"
	"strings"
)

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func IsSafeIdentifier(value string) bool {
	return identRegex.MatchString(value)
}

// IsSafeQualified accepts dotted identifiers such as schema.table, up to maxSegments parts.
func IsSafeQualified(value string, maxSegments int) bool {
	parts := strings.Split(value, ".")
	if maxSegments > 0 && len(parts) > maxSegments {
		return false
	}
	for _, part := range parts {
		if !IsSafeIdentifier(part) {
			return false
		}
	}
	return true
}

type Allowlist struct {
	Tables []string
}

// AllowsTable is permissive when no tables are listed.
func (a Allowlist) AllowsTable(table string) bool {
	if len(a.Tables) == 0 {
		return true
	}
	return slices.Contains(a.Tables, table)
}
