// Package sqlite opens the local session history database and applies its migrations.
// It uses modernc.org/sqlite, a pure-Go driver, so the binaries build without CGO.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Registers the driver under the name "sqlite".
	_ "modernc.org/sqlite"
)

// InMemory is the path that opens a private in-memory database.
const InMemory = ":memory:"

// NewDB opens (or creates) the database at path with:
//   - WAL journal mode
//   - foreign key enforcement
//   - a 5 second busy timeout
//   - synchronous=NORMAL
//
// The parent directory must already exist. An in-memory database is limited to a single
// connection, since every connection would otherwise see its own empty database.
func NewDB(path string) (*sql.DB, error) {
	if path != InMemory {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("sqlite.NewDB: parent directory %q does not exist", dir)
		}
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.NewDB: open %q: %w", path, err)
	}

	if path == InMemory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.NewDB: ping %q: %w", path, err)
	}
	return db, nil
}

// Open is NewDB followed by MigrateUp.
func Open(path string) (*sql.DB, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
