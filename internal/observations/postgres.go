package observations

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name:        "postgres",
	driver:      "postgres",
	maxSegments: 2,
	quote: func(ident string) string {
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	},
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	trueLit:     "TRUE",
}
