// Package storage persists idelink state in SQLite: user settings and
// secrets, the machine identity, and the history of backend sessions.
package storage

import (
	"database/sql"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	// Pure-Go SQLite driver, registered for side effects. No CGO needed.
	_ "modernc.org/sqlite"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
)

// ErrSettingNotFound is returned when a settings lookup misses.
var ErrSettingNotFound = errors.New("setting not found")

var log = logrus.WithField("component", "storage")

// SQLiteStore persists settings and sessions. It creates the database and
// tables on first use and supports concurrent access through internal locking.
type SQLiteStore struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations.
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// Use ":memory:" for an in-memory database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.WithField("path", path).Debug("Opening database")

	// busy_timeout covers the CLI and a running daemon sharing the file.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}
	// One connection: ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}

	log.WithField("schema_version", currentSchemaVersion).Debug("Database ready")
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func queryFailed(op string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageQueryFailed, op, err)
}

func saveFailed(op string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageSaveFailed, op, err)
}
