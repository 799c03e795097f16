package source

import (
	"database/sql"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// Open opens a database handle with the named driver. The SQLite driver is
// linked in and available as "sqlite"; PostgreSQL deployments link a driver
// of their choice (e.g. pgx's stdlib wrapper) and pass its name here.
func Open(driver, dsn string) (*sql.DB, error) { return sql.Open(driver, dsn) }
