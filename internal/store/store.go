// Package store is the authoritative, transactional persistence layer
// (spec §4.1). It exposes typed operations by entity rather than raw SQL to
// callers, backed by SQLite via mattn/go-sqlite3, the same driver and
// connection discipline the teacher uses in internal/memory/db.go.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fleetforge/fleetd/internal/types"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Store is the concrete SQLite-backed implementation of the kernel's
// persistence layer. A single logical connection is shared by all callers;
// transactions serialize writes, reads run concurrently (§5).
type Store struct {
	db *sql.DB
}

// Open creates (if necessary) and migrates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("open store: %w", err))
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, types.WrapStorage(fmt.Errorf("migrate store: %w", err))
	}
	log.Printf("[STORE] opened %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check schema version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
		log.Printf("[STORE] initialized at schema v%d", currentSchemaVersion)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on any returned error.
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return types.WrapStorage(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.WrapStorage(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// mattn/go-sqlite3 reports constraint violations with this substring;
	// checked this way (rather than type-asserting sqlite3.Error) so the
	// helper also works against the error text after %w-wrapping.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
