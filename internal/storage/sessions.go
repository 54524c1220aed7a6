package storage

// sessions.go records the backend sessions this machine has established,
// for `idelink sessions` and for diagnosing reconnect churn.

import (
	"database/sql"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
)

// maxSessions is the maximum number of sessions to retain.
// Older sessions are deleted when this limit is exceeded.
const maxSessions = 20

// SessionStatus is the lifecycle state of a recorded session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is one handshake with an assistant backend.
type Session struct {
	ID        string
	Endpoint  string
	StartedAt time.Time
	LastSeen  time.Time
	Status    SessionStatus
}

// RecordSession stores a newly established session. Recording an ID that
// already exists refreshes its endpoint and last_seen and marks it active.
// Enforces retention: keeps only the most recent maxSessions sessions.
func (s *SQLiteStore) RecordSession(id, endpoint string, startedAt time.Time) error {
	if id == "" {
		return saveFailed("record session", errors.New("session id cannot be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"session_id": id,
		"endpoint":   endpoint,
	}).Debug("Recording session")

	started := startedAt.UTC().Format(time.RFC3339Nano)

	const query = `
		INSERT INTO sessions (id, endpoint, started_at, last_seen, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			endpoint = excluded.endpoint,
			last_seen = excluded.last_seen,
			status = excluded.status
	`
	if _, err := s.db.Exec(query, id, endpoint, started, started, string(SessionActive)); err != nil {
		return saveFailed("record session", err)
	}

	const cleanupQuery = `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanupQuery, maxSessions); err != nil {
		return saveFailed("enforce session retention", err)
	}
	return nil
}

// GetSession retrieves a session by ID. A missing session is a
// storage.not_found error.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, endpoint, started_at, last_seen, status
		FROM sessions
		WHERE id = ?
	`
	session, err := scanSession(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session " + id)
	}
	if err != nil {
		return nil, queryFailed("get session", err)
	}
	return session, nil
}

// ListSessions returns recent sessions, newest first. A limit of 0 or less
// returns up to the retention limit.
func (s *SQLiteStore) ListSessions(limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = maxSessions
	}

	const query = `
		SELECT id, endpoint, started_at, last_seen, status
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, queryFailed("list sessions", err)
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, queryFailed("scan session", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("iterate session rows", err)
	}
	return sessions, nil
}

// TouchSession updates last_seen for a session.
func (s *SQLiteStore) TouchSession(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE sessions SET last_seen = ? WHERE id = ?`
	if _, err := s.db.Exec(query, at.UTC().Format(time.RFC3339Nano), id); err != nil {
		return saveFailed("touch session", err)
	}
	return nil
}

// EndSession marks a session ended. Unknown IDs are ignored.
func (s *SQLiteStore) EndSession(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE sessions SET status = ?, last_seen = ? WHERE id = ?`
	if _, err := s.db.Exec(query, string(SessionEnded), at.UTC().Format(time.RFC3339Nano), id); err != nil {
		return saveFailed("end session", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session   Session
		startedAt string
		lastSeen  string
		status    string
	)
	if err := row.Scan(&session.ID, &session.Endpoint, &startedAt, &lastSeen, &status); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, err
	}
	session.StartedAt = t

	t, err = time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return nil, err
	}
	session.LastSeen = t
	session.Status = SessionStatus(status)
	return &session, nil
}
