package observations

import (
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// MySQL DSNs need parseTime=true so DATETIME columns scan into time.Time.
var mysqlDialect = dialect{
	name:        "mysql",
	driver:      "mysql",
	maxSegments: 2,
	quote: func(ident string) string {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	},
	placeholder: func(int) string { return "?" },
	trueLit:     "TRUE",
}

func mysqlDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}
