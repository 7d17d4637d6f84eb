package observations

import (
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

var mssqlDialect = dialect{
	name:        "mssql",
	driver:      "sqlserver",
	maxSegments: 2,
	quote: func(ident string) string {
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	},
	placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
	topLimit:    true,
	trueLit:     "1",
}

// qualifyMSSQLTable puts unqualified tables in the dbo schema.
func qualifyMSSQLTable(table string) string {
	if strings.Contains(table, ".") {
		return table
	}
	return "dbo." + table
}
