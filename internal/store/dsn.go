package store

import "strings"

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Postgres DSNs
// use a URL scheme or key=value form; anything else is treated as a SQLite
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
