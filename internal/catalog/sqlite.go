package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteStore opens a SQLite-backed Store. SQLite serializes writes at
// the connection-pool level (max one open connection) since the driver
// doesn't support concurrent writers across separate connections the way
// Postgres does - tests and single-node deployments use this backend.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return newSQLStore(db, sqliteDialect{})
}
